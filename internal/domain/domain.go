package domain

// Roles a user can hold on a team.
const (
	RoleProductManager        = "product_manager"
	RoleProductOwner          = "product_owner"
	RoleProductDesigner       = "product_designer"
	RoleFrontendDeveloper     = "frontend_developer"
	RoleBackendDeveloper      = "backend_developer"
	RoleDevopsEngineer        = "devops_engineer"
	RoleCybersecurityEngineer = "cybersecurity_engineer"
	RoleQAEngineer            = "qa_engineer"
	RoleAIMLEngineer          = "ai_ml_engineer"
	RoleStakeholder           = "stakeholder"
	RoleAdmin                 = "admin"
)

var Roles = []string{
	RoleProductManager,
	RoleProductOwner,
	RoleProductDesigner,
	RoleFrontendDeveloper,
	RoleBackendDeveloper,
	RoleDevopsEngineer,
	RoleCybersecurityEngineer,
	RoleQAEngineer,
	RoleAIMLEngineer,
	RoleStakeholder,
	RoleAdmin,
}

func ValidRole(r string) bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

// Task statuses.
const (
	TaskBacklog    = "backlog"
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskInReview   = "in_review"
	TaskInQA       = "in_qa"
	TaskBlocked    = "blocked"
	TaskDone       = "done"
	TaskCancelled  = "cancelled"
)

var TaskStatuses = []string{
	TaskBacklog, TaskTodo, TaskInProgress, TaskInReview,
	TaskInQA, TaskBlocked, TaskDone, TaskCancelled,
}

func ValidTaskStatus(s string) bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// HandoffStatus maps the receiving role to the status a task enters when
// handed to that role. Roles absent from the map leave the status alone.
var HandoffStatus = map[string]string{
	RoleQAEngineer:      TaskInQA,
	RoleProductDesigner: TaskInReview,
	RoleDevopsEngineer:  TaskInReview,
}

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"`
	AvatarURL    string `json:"avatar_url,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Project struct {
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

type TeamMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	AddedAt   string `json:"added_at" format:"date-time"`
}

// Task types.
const (
	TaskTypeFeature       = "feature"
	TaskTypeBug           = "bug"
	TaskTypeEnhancement   = "enhancement"
	TaskTypeResearch      = "research"
	TaskTypeDocumentation = "documentation"
	TaskTypeTesting       = "testing"
	TaskTypeDeployment    = "deployment"
)

func ValidTaskType(t string) bool {
	switch t {
	case TaskTypeFeature, TaskTypeBug, TaskTypeEnhancement, TaskTypeResearch,
		TaskTypeDocumentation, TaskTypeTesting, TaskTypeDeployment:
		return true
	}
	return false
}

type Task struct {
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

// Handoff is one workflow history entry. FromRole is nil on the first
// handoff of a task, before any role holds it.
type Handoff struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	FromRole    *string `json:"from_role,omitempty"`
	ToRole      string  `json:"to_role"`
	ToID        *string `json:"to_id,omitempty"`
	HandedOffBy string  `json:"handed_off_by"`
	Notes       string  `json:"notes,omitempty"`
	At          string  `json:"at" format:"date-time"`
}

type Comment struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	AuthorID  string   `json:"author_id"`
	Body      string   `json:"body"`
	Mentions  []string `json:"mentions,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

type CommitRef struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	SHA      string `json:"sha"`
	Message  string `json:"message"`
	Author   string `json:"author,omitempty"`
	URL      string `json:"url,omitempty"`
	LinkedAt string `json:"linked_at" format:"date-time"`
}

type TestCase struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"pending,passed,failed,skipped"`
	Notes     string `json:"notes,omitempty"`
	AddedBy   string `json:"added_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type PRD struct {
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

type PRDApprover struct {
	PRDID     string  `json:"prd_id"`
	UserID    string  `json:"user_id"`
	Decision  string  `json:"decision" enum:"pending,approved,rejected"`
	Comment   string  `json:"comment,omitempty"`
	DecidedAt *string `json:"decided_at,omitempty" format:"date-time"`
}

type PRDChange struct {
	ID        string `json:"id"`
	PRDID     string `json:"prd_id"`
	AuthorID  string `json:"author_id"`
	Summary   string `json:"summary"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Pipeline statuses.
const (
	PipelinePending   = "pending"
	PipelineRunning   = "running"
	PipelineSuccess   = "success"
	PipelineFailed    = "failed"
	PipelineCancelled = "cancelled"
	PipelineSkipped   = "skipped"
)

func ValidPipelineStatus(s string) bool {
	switch s {
	case PipelinePending, PipelineRunning, PipelineSuccess,
		PipelineFailed, PipelineCancelled, PipelineSkipped:
		return true
	}
	return false
}

// Pipeline triggers.
const (
	TriggerManual    = "manual"
	TriggerWebhook   = "webhook"
	TriggerScheduled = "scheduled"
	TriggerAutomatic = "automatic"
)

func ValidPipelineTrigger(t string) bool {
	switch t {
	case TriggerManual, TriggerWebhook, TriggerScheduled, TriggerAutomatic:
		return true
	}
	return false
}

// VulnerabilityCounts is the per-severity result of a pipeline security
// scan. Nil on pipelines without a scan.
type VulnerabilityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

type Pipeline struct {
	ID              string               `json:"id"`
	ProjectID       string               `json:"project_id"`
	Provider        string               `json:"provider" enum:"github,gitlab,manual"`
	Environment     string               `json:"environment" enum:"development,staging,production"`
	Status          string               `json:"status" enum:"pending,running,success,failed,cancelled,skipped"`
	Trigger         string               `json:"trigger" enum:"manual,webhook,scheduled,automatic"`
	Branch          string               `json:"branch,omitempty"`
	CommitSHA       string               `json:"commit_sha,omitempty"`
	Vulnerabilities *VulnerabilityCounts `json:"vulnerabilities,omitempty"`
	TriggeredBy     *string              `json:"triggered_by,omitempty"`
	ExternalID      string               `json:"external_id,omitempty"`
	Version         int64                `json:"version"`
	StartedAt       string               `json:"started_at" format:"date-time"`
	FinishedAt      *string              `json:"finished_at,omitempty" format:"date-time"`
}

// Notification types.
const (
	NotifyTaskAssigned        = "task_assigned"
	NotifyTaskHandoff         = "task_handoff"
	NotifyTaskCompleted       = "task_completed"
	NotifyTaskBlocked         = "task_blocked"
	NotifyPRDApproved         = "prd_approved"
	NotifyPRDUpdated          = "prd_updated"
	NotifyCommentAdded        = "comment_added"
	NotifyMention             = "mention"
	NotifyDeadlineApproaching = "deadline_approaching"
	NotifyDeploymentStarted   = "deployment_started"
	NotifyDeploymentSuccess   = "deployment_success"
	NotifyDeploymentFailed    = "deployment_failed"
	NotifyComplianceAlert     = "compliance_alert"
	NotifySecurityAlert       = "security_alert"
	NotifySystem              = "system"
)

// NotificationChannels flags the delivery channels a notification goes out
// on. In-app is the persisted record itself and defaults on everywhere.
type NotificationChannels struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
	Slack bool `json:"slack"`
}

type Notification struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	SenderID     *string              `json:"sender_id,omitempty"`
	Type         string               `json:"type"`
	Title        string               `json:"title"`
	Body         string               `json:"body,omitempty"`
	Priority     string               `json:"priority" enum:"low,medium,high,urgent"`
	EntityKind   string               `json:"entity_kind,omitempty"`
	EntityID     string               `json:"entity_id,omitempty"`
	Channels     NotificationChannels `json:"channels"`
	MetadataJSON string               `json:"metadata_json,omitempty"`
	Read         bool                 `json:"read"`
	ReadAt       *string              `json:"read_at,omitempty" format:"date-time"`
	CreatedAt    string               `json:"created_at" format:"date-time"`
}

type Document struct {
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

type ComplianceReport struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Framework  string      `json:"framework"`
	Score      float64     `json:"score"`
	Status     string      `json:"status" enum:"compliant,partial,non_compliant"`
	ReportedBy string      `json:"reported_by"`
	Deviations []Deviation `json:"deviations,omitempty"`
	CreatedAt  string      `json:"created_at" format:"date-time"`
}

type Deviation struct {
	ID          string `json:"id"`
	ReportID    string `json:"report_id"`
	Severity    string `json:"severity" enum:"low,medium,high,critical"`
	Description string `json:"description"`
	Remediation string `json:"remediation,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
