package server

import (
	"encoding/json"

	"teamline/internal/domain"
)

// Request payloads

type RegisterRequest struct {
	Email    string `json:"email" format:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UpdateUserRequest struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      *string `json:"role,omitempty"`
	Active    *bool   `json:"active,omitempty"`
}

type CreateProjectRequest struct {
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	RepositoryURL *string `json:"repository_url,omitempty"`
	StartDate     *string `json:"start_date,omitempty" format:"date-time"`
	TargetDate    *string `json:"target_date,omitempty" format:"date-time"`
}

type UpdateProjectRequest struct {
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	Status        *string `json:"status,omitempty" enum:"planning,active,on_hold,completed,archived"`
	RepositoryURL *string `json:"repository_url,omitempty"`
	StartDate     *string `json:"start_date,omitempty" format:"date-time"`
	TargetDate    *string `json:"target_date,omitempty" format:"date-time"`
}

type TeamMemberRequest struct {
	Role string `json:"role"`
}

type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty" enum:"feature,bug,enhancement,research,documentation,testing,deployment"`
	Status      *string  `json:"status,omitempty" enum:"backlog,todo,in_progress,in_review,in_qa,blocked,done,cancelled"`
	Priority    *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	Sprint      *string  `json:"sprint,omitempty"`
	StoryPoints *int     `json:"story_points,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
}

type UpdateTaskRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Type        *string  `json:"type,omitempty" enum:"feature,bug,enhancement,research,documentation,testing,deployment"`
	Status      *string  `json:"status,omitempty" enum:"backlog,todo,in_progress,in_review,in_qa,blocked,done,cancelled"`
	Priority    *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	Sprint      *string  `json:"sprint,omitempty"`
	StoryPoints *int     `json:"story_points,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
}

type HandoffRequest struct {
	ToRole   string  `json:"to_role" enum:"product_manager,product_owner,product_designer,frontend_developer,backend_developer,devops_engineer,cybersecurity_engineer,qa_engineer,ai_ml_engineer,stakeholder,admin"`
	ToUserID *string `json:"to_user_id,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type CommentRequest struct {
	Body     string   `json:"body"`
	Mentions []string `json:"mentions,omitempty"`
}

type LinkCommitRequest struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author,omitempty"`
	URL     string `json:"url,omitempty"`
}

type TestCaseRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

type TestCaseStatusRequest struct {
	Status string `json:"status" enum:"pending,passed,failed,skipped"`
	Notes  string `json:"notes,omitempty"`
}

type CreatePRDRequest struct {
	Title       string   `json:"title"`
	Content     string   `json:"content,omitempty"`
	ApproverIDs []string `json:"approver_ids,omitempty"`
}

type UpdatePRDRequest struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Status  *string `json:"status,omitempty" enum:"draft,in_review,rejected,archived"`
	Summary string  `json:"summary,omitempty"`
}

type PRDDecisionRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
	Comment  string `json:"comment,omitempty"`
}

type DeployRequest struct {
	Environment string `json:"environment" enum:"development,staging,production"`
	Branch      string `json:"branch,omitempty"`
	CommitSHA   string `json:"commit_sha,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
}

type CompletePipelineRequest struct {
	Status string `json:"status" enum:"success,failed,cancelled,skipped"`
}

type DocumentRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Kind    string   `json:"kind" enum:"spec,runbook,design,meeting_notes,other"`
	Tags    []string `json:"tags,omitempty"`
}

type ComplianceReportRequest struct {
	Framework  string             `json:"framework"`
	Score      float64            `json:"score" minimum:"0" maximum:"100"`
	Status     string             `json:"status" enum:"compliant,partial,non_compliant"`
	Deviations []DeviationRequest `json:"deviations,omitempty"`
}

type DeviationRequest struct {
	Severity    string `json:"severity" enum:"low,medium,high,critical"`
	Description string `json:"description"`
	Remediation string `json:"remediation,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type AuthResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

type ProjectResponse struct {
	ID            string  `json:"id"`
	Key           string  `json:"key"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status" enum:"planning,active,on_hold,completed,archived"`
	OwnerID       string  `json:"owner_id"`
	RepositoryURL *string `json:"repository_url,omitempty"`
	StartDate     *string `json:"start_date,omitempty" format:"date-time"`
	TargetDate    *string `json:"target_date,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type TeamMemberResponse struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	AddedAt   string `json:"added_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type" enum:"feature,bug,enhancement,research,documentation,testing,deployment"`
	Status      string   `json:"status" enum:"backlog,todo,in_progress,in_review,in_qa,blocked,done,cancelled"`
	Priority    string   `json:"priority" enum:"low,medium,high,urgent"`
	ReporterID  string   `json:"reporter_id"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	CurrentRole *string  `json:"current_role,omitempty"`
	Sprint      *string  `json:"sprint,omitempty"`
	StoryPoints *int     `json:"story_points,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	Version     int64    `json:"version"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

type HandoffResponse struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	FromRole    *string `json:"from_role,omitempty"`
	ToRole      string  `json:"to_role"`
	ToID        *string `json:"to_id,omitempty"`
	HandedOffBy string  `json:"handed_off_by"`
	Notes       string  `json:"notes,omitempty"`
	At          string  `json:"at" format:"date-time"`
}

type CommentResponse struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	AuthorID  string   `json:"author_id"`
	Body      string   `json:"body"`
	Mentions  []string `json:"mentions,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type CommitResponse struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	SHA      string `json:"sha"`
	Message  string `json:"message"`
	Author   string `json:"author,omitempty"`
	URL      string `json:"url,omitempty"`
	LinkedAt string `json:"linked_at" format:"date-time"`
}

type TestCaseResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"pending,passed,failed,skipped"`
	Notes     string `json:"notes,omitempty"`
	AddedBy   string `json:"added_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type PRDResponse struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id"`
	Title      string  `json:"title"`
	Content    string  `json:"content,omitempty"`
	Status     string  `json:"status" enum:"draft,in_review,approved,rejected,archived"`
	AuthorID   string  `json:"author_id"`
	Version    int     `json:"version"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
	ApprovedAt *string `json:"approved_at,omitempty" format:"date-time"`
}

type ApproverResponse struct {
	PRDID     string  `json:"prd_id"`
	UserID    string  `json:"user_id"`
	Decision  string  `json:"decision" enum:"pending,approved,rejected"`
	Comment   string  `json:"comment,omitempty"`
	DecidedAt *string `json:"decided_at,omitempty" format:"date-time"`
}

type ChangeResponse struct {
	ID        string `json:"id"`
	PRDID     string `json:"prd_id"`
	AuthorID  string `json:"author_id"`
	Summary   string `json:"summary"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PRDDetailResponse struct {
	PRDResponse
	Approvers []ApproverResponse `json:"approvers"`
	Changes   []ChangeResponse   `json:"changes"`
}

type PipelineResponse struct {
	ID              string                      `json:"id"`
	ProjectID       string                      `json:"project_id"`
	Provider        string                      `json:"provider" enum:"github,gitlab,manual"`
	Environment     string                      `json:"environment" enum:"development,staging,production"`
	Status          string                      `json:"status" enum:"pending,running,success,failed,cancelled,skipped"`
	Trigger         string                      `json:"trigger" enum:"manual,webhook,scheduled,automatic"`
	Branch          string                      `json:"branch,omitempty"`
	CommitSHA       string                      `json:"commit_sha,omitempty"`
	Vulnerabilities *domain.VulnerabilityCounts `json:"vulnerabilities,omitempty"`
	TriggeredBy     *string                     `json:"triggered_by,omitempty"`
	ExternalID      string                      `json:"external_id,omitempty"`
	Version         int64                       `json:"version"`
	StartedAt       string                      `json:"started_at" format:"date-time"`
	FinishedAt      *string                     `json:"finished_at,omitempty" format:"date-time"`
}

type NotificationResponse struct {
	ID         string                      `json:"id"`
	UserID     string                      `json:"user_id"`
	SenderID   *string                     `json:"sender_id,omitempty"`
	Type       string                      `json:"type"`
	Title      string                      `json:"title"`
	Body       string                      `json:"body,omitempty"`
	Priority   string                      `json:"priority" enum:"low,medium,high,urgent"`
	EntityKind string                      `json:"entity_kind,omitempty"`
	EntityID   string                      `json:"entity_id,omitempty"`
	Channels   domain.NotificationChannels `json:"channels"`
	Metadata   map[string]any              `json:"metadata,omitempty"`
	Read       bool                        `json:"read"`
	ReadAt     *string                     `json:"read_at,omitempty" format:"date-time"`
	CreatedAt  string                      `json:"created_at" format:"date-time"`
}

type DocumentResponse struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Title     string   `json:"title"`
	Content   string   `json:"content,omitempty"`
	Kind      string   `json:"kind" enum:"spec,runbook,design,meeting_notes,other"`
	AuthorID  string   `json:"author_id"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type DeviationResponse struct {
	ID          string `json:"id"`
	ReportID    string `json:"report_id"`
	Severity    string `json:"severity" enum:"low,medium,high,critical"`
	Description string `json:"description"`
	Remediation string `json:"remediation,omitempty"`
}

type ComplianceReportResponse struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id"`
	Framework  string              `json:"framework"`
	Score      float64             `json:"score"`
	Status     string              `json:"status" enum:"compliant,partial,non_compliant"`
	ReportedBy string              `json:"reported_by"`
	Deviations []DeviationResponse `json:"deviations"`
	CreatedAt  string              `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedNotifications struct {
	Items      []NotificationResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func teamMemberResponse(m domain.TeamMember) TeamMemberResponse {
	return TeamMemberResponse(m)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func handoffResponse(h domain.Handoff) HandoffResponse {
	return HandoffResponse(h)
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse(c)
}

func commitResponse(c domain.CommitRef) CommitResponse {
	return CommitResponse(c)
}

func testCaseResponse(tc domain.TestCase) TestCaseResponse {
	return TestCaseResponse(tc)
}

func prdResponse(p domain.PRD) PRDResponse {
	return PRDResponse(p)
}

func approverResponse(a domain.PRDApprover) ApproverResponse {
	return ApproverResponse(a)
}

func changeResponse(c domain.PRDChange) ChangeResponse {
	return ChangeResponse(c)
}

func pipelineResponse(p domain.Pipeline) PipelineResponse {
	return PipelineResponse(p)
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		UserID:     n.UserID,
		SenderID:   n.SenderID,
		Type:       n.Type,
		Title:      n.Title,
		Body:       n.Body,
		Priority:   n.Priority,
		EntityKind: n.EntityKind,
		EntityID:   n.EntityID,
		Channels:   n.Channels,
		Metadata:   decodeJSONMap(n.MetadataJSON),
		Read:       n.Read,
		ReadAt:     n.ReadAt,
		CreatedAt:  n.CreatedAt,
	}
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse(d)
}

func complianceReportResponse(r domain.ComplianceReport) ComplianceReportResponse {
	devs := make([]DeviationResponse, 0, len(r.Deviations))
	for _, d := range r.Deviations {
		devs = append(devs, DeviationResponse(d))
	}
	return ComplianceReportResponse{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		Framework:  r.Framework,
		Score:      r.Score,
		Status:     r.Status,
		ReportedBy: r.ReportedBy,
		Deviations: devs,
		CreatedAt:  r.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		UserID:    k.UserID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapSlice[T, R any](items []T, conv func(T) R) []R {
	res := make([]R, 0, len(items))
	for _, it := range items {
		res = append(res, conv(it))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
