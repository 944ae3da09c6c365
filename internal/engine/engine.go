package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"teamline/internal/config"
	"teamline/internal/domain"
	"teamline/internal/engine/auth"
	"teamline/internal/events"
	"teamline/internal/notify"
	"teamline/internal/repo"
)

// ErrInvalidInput marks validation failures so the transport layer can map
// them to 400s.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

const conflictRetries = 3

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify *notify.Dispatcher
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Notify: &notify.Dispatcher{Repo: r},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// withConflictRetry reruns fn while it keeps losing the optimistic version
// race, up to a small bound.
func (e Engine) withConflictRetry(fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if !errors.Is(err, repo.ErrConflict) {
			return err
		}
	}
	return err
}

// --- users ---

type UserCreateOptions struct {
	Email    string
	Name     string
	Role     string
	Password string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	if strings.TrimSpace(opts.Email) == "" || !strings.Contains(opts.Email, "@") {
		return domain.User{}, invalidf("valid email is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.User{}, invalidf("name is required")
	}
	if !domain.ValidRole(opts.Role) {
		return domain.User{}, invalidf("unknown role %s", opts.Role)
	}
	if len(opts.Password) < 8 {
		return domain.User{}, invalidf("password must be at least 8 characters")
	}
	cost := bcrypt.DefaultCost
	if e.Config != nil && e.Config.Auth.BcryptCost > 0 {
		cost = e.Config.Auth.BcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), cost)
	if err != nil {
		return domain.User{}, err
	}
	now := e.nowStr()
	u := domain.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(opts.Email)),
		Name:         opts.Name,
		Role:         opts.Role,
		PasswordHash: string(hash),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := e.Repo.GetUserByEmail(ctx, u.Email); err == nil {
		return domain.User{}, invalidf("email %s already registered", u.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.registered", "", "user", u.ID, u.ID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Authenticate checks credentials and returns the user on success.
func (e Engine) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.User{}, err
	}
	if !u.Active {
		return domain.User{}, auth.ForbiddenError{Action: "sign in with a deactivated account"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, repo.ErrNotFound
	}
	return u, nil
}

// --- projects ---

type ProjectCreateOptions struct {
	Key           string
	Name          string
	Description   string
	RepositoryURL string
	StartDate     string
	TargetDate    string
	ActorID       string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	key := strings.ToUpper(strings.TrimSpace(opts.Key))
	if key == "" {
		return domain.Project{}, invalidf("key is required")
	}
	for _, r := range key {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return domain.Project{}, invalidf("key must be alphanumeric")
		}
	}
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Project{}, invalidf("name is required")
	}
	if _, err := e.Repo.GetProjectByKey(ctx, key); err == nil {
		return domain.Project{}, invalidf("project key %s already exists", key)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	now := e.nowStr()
	p := domain.Project{
		ID:            uuid.New().String(),
		Key:           key,
		Name:          opts.Name,
		Description:   opts.Description,
		Status:        "planning",
		OwnerID:       opts.ActorID,
		RepositoryURL: optionalString(opts.RepositoryURL),
		StartDate:     optionalString(opts.StartDate),
		TargetDate:    optionalString(opts.TargetDate),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	owner, err := e.Repo.GetUser(ctx, opts.ActorID)
	if err != nil {
		return domain.Project{}, err
	}
	member := domain.TeamMember{ProjectID: p.ID, UserID: owner.ID, Role: owner.Role, AddedAt: now}
	if err := e.Repo.UpsertTeamMember(ctx, tx, member); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"key": p.Key, "name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

type ProjectUpdateOptions struct {
	ID            string
	Name          *string
	Description   *string
	Status        *string
	RepositoryURL *string
	StartDate     *string
	TargetDate    *string
	ActorID       string
}

func validProjectStatus(s string) bool {
	switch s {
	case "planning", "active", "on_hold", "completed", "archived":
		return true
	}
	return false
}

func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return p, invalidf("name must not be empty")
		}
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Status != nil {
		if !validProjectStatus(*opts.Status) {
			return p, invalidf("unknown project status %s", *opts.Status)
		}
		p.Status = *opts.Status
	}
	if opts.RepositoryURL != nil {
		p.RepositoryURL = optionalString(*opts.RepositoryURL)
	}
	if opts.StartDate != nil {
		p.StartDate = optionalString(*opts.StartDate)
	}
	if opts.TargetDate != nil {
		p.TargetDate = optionalString(*opts.TargetDate)
	}
	p.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"status": p.Status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) DeleteProject(ctx context.Context, projectID string, actor domain.User) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if actor.ID != p.OwnerID && !auth.Elevated(actor.Role) {
		return auth.ForbiddenError{Action: "delete the project"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, p.ID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", p.ID, "project", p.ID, actor.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddTeamMember(ctx context.Context, projectID, userID, role string, actor domain.User) (domain.TeamMember, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if !auth.CanManageTeam(actor, p) {
		return domain.TeamMember{}, auth.ForbiddenError{Action: "manage the project team"}
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if role == "" {
		role = u.Role
	}
	if !domain.ValidRole(role) {
		return domain.TeamMember{}, invalidf("unknown role %s", role)
	}
	m := domain.TeamMember{ProjectID: p.ID, UserID: u.ID, Role: role, AddedAt: e.nowStr()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTeamMember(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "project.member.added", p.ID, "project", p.ID, actor.ID, events.EventPayload{"user_id": u.ID, "role": role}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

func (e Engine) RemoveTeamMember(ctx context.Context, projectID, userID string, actor domain.User) error {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !auth.CanManageTeam(actor, p) {
		return auth.ForbiddenError{Action: "manage the project team"}
	}
	if userID == p.OwnerID {
		return invalidf("cannot remove the project owner")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveTeamMember(ctx, tx, projectID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.member.removed", p.ID, "project", p.ID, actor.ID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- documents ---

type DocumentOptions struct {
	ID        string
	ProjectID string
	Title     string
	Content   string
	Kind      string
	Tags      []string
	ActorID   string
}

func validDocumentKind(k string) bool {
	switch k {
	case "spec", "runbook", "design", "meeting_notes", "other":
		return true
	}
	return false
}

func (e Engine) CreateDocument(ctx context.Context, opts DocumentOptions) (domain.Document, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Document{}, invalidf("title is required")
	}
	if opts.Kind == "" {
		opts.Kind = "other"
	}
	if !validDocumentKind(opts.Kind) {
		return domain.Document{}, invalidf("unknown document kind %s", opts.Kind)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Document{}, err
	}
	now := e.nowStr()
	d := domain.Document{
		ID:        uuid.New().String(),
		ProjectID: opts.ProjectID,
		Title:     opts.Title,
		Content:   opts.Content,
		Kind:      opts.Kind,
		AuthorID:  opts.ActorID,
		Tags:      opts.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocument(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.created", d.ProjectID, "document", d.ID, opts.ActorID, events.EventPayload{"kind": d.Kind}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

func (e Engine) UpdateDocument(ctx context.Context, opts DocumentOptions) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, opts.ID)
	if err != nil {
		return d, err
	}
	if opts.Title != "" {
		d.Title = opts.Title
	}
	if opts.Content != "" {
		d.Content = opts.Content
	}
	if opts.Kind != "" {
		if !validDocumentKind(opts.Kind) {
			return d, invalidf("unknown document kind %s", opts.Kind)
		}
		d.Kind = opts.Kind
	}
	if opts.Tags != nil {
		d.Tags = opts.Tags
	}
	d.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocument(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.updated", d.ProjectID, "document", d.ID, opts.ActorID, nil); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

func (e Engine) DeleteDocument(ctx context.Context, id, actorID string) error {
	d, err := e.Repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDocument(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.deleted", d.ProjectID, "document", d.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// --- compliance ---

type ComplianceReportOptions struct {
	ProjectID  string
	Framework  string
	Score      float64
	Status     string
	Deviations []domain.Deviation
	ActorID    string
}

func (e Engine) SubmitComplianceReport(ctx context.Context, opts ComplianceReportOptions) (domain.ComplianceReport, error) {
	if strings.TrimSpace(opts.Framework) == "" {
		return domain.ComplianceReport{}, invalidf("framework is required")
	}
	if opts.Score < 0 || opts.Score > 100 {
		return domain.ComplianceReport{}, invalidf("score must be 0-100")
	}
	switch opts.Status {
	case "compliant", "partial", "non_compliant":
	default:
		return domain.ComplianceReport{}, invalidf("unknown compliance status %s", opts.Status)
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ComplianceReport{}, err
	}
	r := domain.ComplianceReport{
		ID:         uuid.New().String(),
		ProjectID:  opts.ProjectID,
		Framework:  opts.Framework,
		Score:      opts.Score,
		Status:     opts.Status,
		ReportedBy: opts.ActorID,
		CreatedAt:  e.nowStr(),
	}
	critical := false
	for i := range opts.Deviations {
		d := opts.Deviations[i]
		switch d.Severity {
		case "low", "medium", "high", "critical":
		default:
			return r, invalidf("unknown deviation severity %s", d.Severity)
		}
		if d.Severity == "critical" {
			critical = true
		}
		d.ID = uuid.New().String()
		d.ReportID = r.ID
		r.Deviations = append(r.Deviations, d)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComplianceReport(ctx, tx, r); err != nil {
		return r, err
	}
	if err := e.Events.Append(ctx, tx, "compliance.reported", r.ProjectID, "compliance_report", r.ID, opts.ActorID, events.EventPayload{
		"framework": r.Framework,
		"score":     r.Score,
		"status":    r.Status,
	}); err != nil {
		return r, err
	}
	batch := e.Notify.Batch()
	if r.Status == "non_compliant" || critical {
		ids, err := e.Repo.TeamUserIDsByRole(ctx, r.ProjectID, domain.RoleCybersecurityEngineer, domain.RoleProductManager)
		if err != nil {
			return r, err
		}
		if err := batch.SendBulk(ctx, tx, ids, notify.ComplianceAlert("", r)); err != nil {
			return r, err
		}
	}
	if err := tx.Commit(); err != nil {
		return r, err
	}
	batch.Deliver()
	return r, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
