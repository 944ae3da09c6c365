package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"teamline/internal/analytics"
	"teamline/internal/cicd"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/engine/auth"
	"teamline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	CICD      cicd.Service
	Analytics analytics.Service
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Teamline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Teamline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAuth(group, cfg.Engine, cfg.Auth)
	registerUsers(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerPRDs(group, cfg.Engine)
	registerPipelines(group, cfg.Engine, cfg.CICD)
	registerNotifications(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine, cfg.Analytics)
	registerDocuments(group, cfg.Engine)
	registerCompliance(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerCI(router, basePath, cfg.Engine, cfg.CICD)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": fe.Action})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, analytics.ErrUnknownRole):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPath(basePath, route) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Teamline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Role   string `query:"role"`
		Active string `query:"active"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var active *bool
		switch input.Active {
		case "true":
			v := true
			active = &v
		case "false":
			v := false
			active = &v
		case "":
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "active must be true or false", nil)
		}
		users, err := e.Repo.ListUsers(ctx, repo.UserFilters{
			Role:   input.Role,
			Active: active,
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapSlice(users, userResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPatch,
		Path:        "/users/{id}",
		Summary:     "Update user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.ID && !auth.Elevated(actor.Role) {
			return nil, handleError(auth.ForbiddenError{Action: "update another user"})
		}
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name != nil {
			u.Name = *input.Body.Name
		}
		if input.Body.AvatarURL != nil {
			u.AvatarURL = *input.Body.AvatarURL
		}
		if input.Body.Role != nil {
			if !auth.Elevated(actor.Role) {
				return nil, handleError(auth.ForbiddenError{Action: "change a user's role"})
			}
			if !domain.ValidRole(*input.Body.Role) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown role "+*input.Body.Role, nil)
			}
			u.Role = *input.Body.Role
		}
		if input.Body.Active != nil {
			if !auth.Elevated(actor.Role) {
				return nil, handleError(auth.ForbiddenError{Action: "activate or deactivate a user"})
			}
			u.Active = *input.Body.Active
		}
		u.UpdatedAt = nowRFC3339()
		if err := e.Repo.UpdateUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Key:           input.Body.Key,
			Name:          input.Body.Name,
			Description:   stringOrEmpty(input.Body.Description),
			RepositoryURL: stringOrEmpty(input.Body.RepositoryURL),
			StartDate:     stringOrEmpty(input.Body.StartDate),
			TargetDate:    stringOrEmpty(input.Body.TargetDate),
			ActorID:       actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		OwnerID  string `query:"owner_id"`
		MemberID string `query:"member_id"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:          input.Status,
			OwnerID:         input.OwnerID,
			MemberID:        input.MemberID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: []ProjectResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapSlice(items, projectResponse)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if errors.Is(err, repo.ErrNotFound) {
			p, err = e.Repo.GetProjectByKey(ctx, strings.ToUpper(input.ProjectID))
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:            input.ProjectID,
			Name:          input.Body.Name,
			Description:   input.Body.Description,
			Status:        input.Body.Status,
			RepositoryURL: input.Body.RepositoryURL,
			StartDate:     input.Body.StartDate,
			TargetDate:    input.Body.TargetDate,
			ActorID:       actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/team",
		Summary:     "List team members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []TeamMemberResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		members, err := e.Repo.ListTeam(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TeamMemberResponse `json:"body"`
		}{Body: mapSlice(members, teamMemberResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-team-member",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/team/{user_id}",
		Summary:     "Add or update a team member",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		UserID    string            `path:"user_id"`
		Body      TeamMemberRequest `json:"body"`
	}) (*struct {
		Body TeamMemberResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AddTeamMember(ctx, input.ProjectID, input.UserID, input.Body.Role, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamMemberResponse `json:"body"`
		}{Body: teamMemberResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-team-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/team/{user_id}",
		Summary:     "Remove a team member",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveTeamMember(ctx, input.ProjectID, input.UserID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Type:        stringOrEmpty(input.Body.Type),
			Status:      stringOrEmpty(input.Body.Status),
			Priority:    stringOrEmpty(input.Body.Priority),
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
			Sprint:      stringOrEmpty(input.Body.Sprint),
			StoryPoints: input.Body.StoryPoints,
			Labels:      input.Body.Labels,
			DueDate:     stringOrEmpty(input.Body.DueDate),
			ActorID:     actor.ID,
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status"`
		Priority   string `query:"priority"`
		AssigneeID string `query:"assignee_id"`
		ReporterID string `query:"reporter_id"`
		Sprint     string `query:"sprint"`
		Role       string `query:"role"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:       input.ProjectID,
			Status:          input.Status,
			Priority:        input.Priority,
			AssigneeID:      input.AssigneeID,
			ReporterID:      input.ReporterID,
			Sprint:          input.Sprint,
			CurrentRole:     input.Role,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []TaskResponse{}}
		if len(tasks) > limit {
			resp.NextCursor = composeCursor(tasks[limit].CreatedAt, tasks[limit].ID)
			tasks = tasks[:limit]
		}
		resp.Items = mapSlice(tasks, taskResponse)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Get task by id or key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:          t.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Type:        input.Body.Type,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			Sprint:      input.Body.Sprint,
			StoryPoints: input.Body.StoryPoints,
			Labels:      input.Body.Labels,
			DueDate:     input.Body.DueDate,
			ActorID:     actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTask(ctx, t.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "handoff-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{id}/handoff",
		Summary:     "Hand a task to the next role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		ID        string         `path:"id"`
		Body      HandoffRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := e.HandoffTask(ctx, t.ID, input.Body.ToRole, stringOrEmpty(input.Body.ToUserID), input.Body.Notes, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-handoffs",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/handoffs",
		Summary:     "Handoff history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []HandoffResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListHandoffs(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []HandoffResponse `json:"body"`
		}{Body: mapSlice(items, handoffResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		ID        string         `path:"id"`
		Body      CommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.AddComment(ctx, t.ID, actor.ID, input.Body.Body, input.Body.Mentions)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComments(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: mapSlice(items, commentResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "link-commit",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{id}/commits",
		Summary:       "Link a commit to a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      LinkCommitRequest `json:"body"`
	}) (*struct {
		Body CommitResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.LinkCommit(ctx, t.ID, domain.CommitRef{
			SHA:     input.Body.SHA,
			Message: input.Body.Message,
			Author:  input.Body.Author,
			URL:     input.Body.URL,
		}, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommitResponse `json:"body"`
		}{Body: commitResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-commits",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/commits",
		Summary:     "List linked commits",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []CommitResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCommits(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommitResponse `json:"body"`
		}{Body: mapSlice(items, commitResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-test-case",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{id}/test-cases",
		Summary:       "Attach a test case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		ID        string          `path:"id"`
		Body      TestCaseRequest `json:"body"`
	}) (*struct {
		Body TestCaseResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		tc, err := e.AddTestCase(ctx, t.ID, input.Body.Name, input.Body.Notes, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TestCaseResponse `json:"body"`
		}{Body: testCaseResponse(tc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-test-case-status",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{id}/test-cases/{test_case_id}",
		Summary:     "Record a test case result",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID  string                `path:"project_id"`
		ID         string                `path:"id"`
		TestCaseID string                `path:"test_case_id"`
		Body       TestCaseStatusRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.SetTestCaseStatus(ctx, t.ID, input.TestCaseID, input.Body.Status, input.Body.Notes, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-test-cases",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{id}/test-cases",
		Summary:     "List test cases",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []TestCaseResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := taskInProject(ctx, e, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTestCases(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TestCaseResponse `json:"body"`
		}{Body: mapSlice(items, testCaseResponse)}, nil
	})
}

func registerPRDs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-prd",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/prds",
		Summary:       "Create PRD",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      CreatePRDRequest `json:"body"`
	}) (*struct {
		Body PRDResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePRD(ctx, engine.PRDCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Content:     input.Body.Content,
			ApproverIDs: input.Body.ApproverIDs,
			ActorID:     actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PRDResponse `json:"body"`
		}{Body: prdResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-prds",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/prds",
		Summary:     "List PRDs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status"`
		AuthorID  string `query:"author_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []PRDResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPRDs(ctx, repo.PRDFilters{
			ProjectID: input.ProjectID,
			Status:    input.Status,
			AuthorID:  input.AuthorID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PRDResponse `json:"body"`
		}{Body: mapSlice(items, prdResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-prd",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/prds/{id}",
		Summary:     "Get PRD with approvers and change history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body PRDDetailResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetPRD(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, p.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "prd not found in project", nil)
		}
		approvers, err := e.Repo.ListPRDApprovers(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		changes, err := e.Repo.ListPRDChanges(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PRDDetailResponse `json:"body"`
		}{Body: PRDDetailResponse{
			PRDResponse: prdResponse(p),
			Approvers:   mapSlice(approvers, approverResponse),
			Changes:     mapSlice(changes, changeResponse),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-prd",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/prds/{id}",
		Summary:     "Update PRD",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		ID        string           `path:"id"`
		Body      UpdatePRDRequest `json:"body"`
	}) (*struct {
		Body PRDResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdatePRD(ctx, engine.PRDUpdateOptions{
			ID:      input.ID,
			Title:   input.Body.Title,
			Content: input.Body.Content,
			Status:  input.Body.Status,
			Summary: input.Body.Summary,
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PRDResponse `json:"body"`
		}{Body: prdResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-prd",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/prds/{id}/decision",
		Summary:     "Approve or reject a PRD",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		ID        string             `path:"id"`
		Body      PRDDecisionRequest `json:"body"`
	}) (*struct {
		Body PRDResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.DecidePRD(ctx, input.ID, input.Body.Decision, input.Body.Comment, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PRDResponse `json:"body"`
		}{Body: prdResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-prd",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/prds/{id}",
		Summary:       "Delete PRD",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetPRD(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, p.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "prd not found in project", nil)
		}
		if err := e.DeletePRD(ctx, p.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerPipelines(api huma.API, e engine.Engine, ci cicd.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-deployment",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/deployments",
		Summary:       "Trigger a deployment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      DeployRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := ci.TriggerDeployment(ctx, cicd.DeployOptions{
			ProjectID:   input.ProjectID,
			Environment: input.Body.Environment,
			Branch:      input.Body.Branch,
			CommitSHA:   input.Body.CommitSHA,
			Trigger:     input.Body.Trigger,
			ActorID:     actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/pipelines",
		Summary:     "List pipelines",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		Environment string `query:"environment"`
		Status      string `query:"status"`
		Since       string `query:"since" format:"date-time"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []PipelineResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListPipelines(ctx, repo.PipelineFilters{
			ProjectID:   input.ProjectID,
			Environment: input.Environment,
			Status:      input.Status,
			Since:       input.Since,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PipelineResponse `json:"body"`
		}{Body: mapSlice(items, pipelineResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/pipelines/{id}",
		Summary:     "Get pipeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Repo.GetPipeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, p.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "pipeline not found in project", nil)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-pipeline",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/pipelines/{id}/complete",
		Summary:     "Mark a pipeline finished",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ID        string                  `path:"id"`
		Body      CompletePipelineRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		existing, err := e.Repo.GetPipeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, existing.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "pipeline not found in project", nil)
		}
		p, err := ci.CompletePipeline(ctx, input.ID, input.Body.Status, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(p)}, nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Unread bool   `query:"unread"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedNotifications `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{
			UserID:          userID,
			Type:            input.Type,
			Unread:          input.Unread,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedNotifications{Items: []NotificationResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapSlice(items, notificationResponse)
		return &struct {
			Body paginatedNotifications `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Count my unread notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.Repo.CountUnread(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification read",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body NotificationResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkNotificationRead(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotificationResponse `json:"body"`
		}{Body: notificationResponse(n)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-all-notifications",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark all my notifications read",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllNotificationsRead(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"marked": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-read-notifications",
		Method:      http.MethodDelete,
		Path:        "/notifications/read",
		Summary:     "Delete my read notifications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ClearReadNotifications(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"deleted": n}}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine, svc analytics.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "my-dashboard",
		Method:      http.MethodGet,
		Path:        "/analytics/dashboard",
		Summary:     "My role dashboard",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body analytics.Dashboard `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := svc.RoleDashboard(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Dashboard `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "velocity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/analytics/velocity",
		Summary:     "Sprint velocity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		From      string `query:"from"`
		To        string `query:"to"`
	}) (*struct {
		Body analytics.Velocity `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		v, err := svc.VelocityMetrics(ctx, input.ProjectID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Velocity `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "compliance-analytics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/analytics/compliance",
		Summary:     "Compliance posture",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body analytics.Compliance `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		c, err := svc.ComplianceAnalytics(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Compliance `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deployment-analytics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/analytics/deployments",
		Summary:     "Deployment health",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		WindowDays int    `query:"window_days" default:"30"`
	}) (*struct {
		Body analytics.Deployments `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		d, err := svc.DeploymentAnalytics(ctx, input.ProjectID, input.WindowDays)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body analytics.Deployments `json:"body"`
		}{Body: d}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/documents",
		Summary:       "Create document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      DocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDocument(ctx, engine.DocumentOptions{
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			Content:   input.Body.Content,
			Kind:      input.Body.Kind,
			Tags:      input.Body.Tags,
			ActorID:   actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents",
		Summary:     "List documents",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Kind      string `query:"kind"`
		Tag       string `query:"tag"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{
			ProjectID: input.ProjectID,
			Kind:      input.Kind,
			Tag:       input.Tag,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapSlice(items, documentResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/documents/{id}",
		Summary:     "Get document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDocument(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, d.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "document not found in project", nil)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/documents/{id}",
		Summary:     "Update document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		ID        string          `path:"id"`
		Body      DocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDocument(ctx, engine.DocumentOptions{
			ID:        input.ID,
			ProjectID: input.ProjectID,
			Title:     input.Body.Title,
			Content:   input.Body.Content,
			Kind:      input.Body.Kind,
			Tags:      input.Body.Tags,
			ActorID:   actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/documents/{id}",
		Summary:     "Delete document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.ID, actor.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCompliance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-compliance-report",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/compliance-reports",
		Summary:       "Submit a compliance report",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      ComplianceReportRequest `json:"body"`
	}) (*struct {
		Body ComplianceReportResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		devs := make([]domain.Deviation, 0, len(input.Body.Deviations))
		for _, d := range input.Body.Deviations {
			devs = append(devs, domain.Deviation{
				Severity:    d.Severity,
				Description: d.Description,
				Remediation: d.Remediation,
			})
		}
		r, err := e.SubmitComplianceReport(ctx, engine.ComplianceReportOptions{
			ProjectID:  input.ProjectID,
			Framework:  input.Body.Framework,
			Score:      input.Body.Score,
			Status:     input.Body.Status,
			Deviations: devs,
			ActorID:    actor.ID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplianceReportResponse `json:"body"`
		}{Body: complianceReportResponse(r)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-compliance-reports",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/compliance-reports",
		Summary:     "List compliance reports",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ComplianceReportResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComplianceReports(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ComplianceReportResponse `json:"body"`
		}{Body: mapSlice(items, complianceReportResponse)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreatedAPIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		plaintext := "tlk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    actor.ID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(plaintext),
			CreatedAt: nowRFC3339(),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreatedAPIKeyResponse `json:"body"`
		}{Body: CreatedAPIKeyResponse{
			APIKeyResponse: apiKeyResponse(key),
			Key:            plaintext,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List my API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: mapSlice(keys, apiKeyResponse)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Delete an API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := currentUser(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.ID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// taskInProject fetches a task by id or key and pins it to the project in
// the path.
func taskInProject(ctx context.Context, e engine.Engine, projectID, idOrKey string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, idOrKey)
	if errors.Is(err, repo.ErrNotFound) {
		t, err = e.Repo.GetTaskByKey(ctx, strings.ToUpper(idOrKey))
	}
	if err != nil {
		return domain.Task{}, err
	}
	if !projectMatches(projectID, t.ProjectID) {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
