package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"teamline/internal/cicd"
	"teamline/internal/engine"
)

const ciBodyLimit = 1 << 20

// registerCI mounts the inbound provider webhooks. They bypass bearer auth
// and are verified against the provider secrets from the config instead.
func registerCI(r chi.Router, basePath string, e engine.Engine, ci cicd.Service) {
	r.Post(path.Join(basePath, "ci/github"), func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, ciBodyLimit))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable body", nil))
			return
		}
		secret := ""
		if e.Config != nil {
			secret = e.Config.CI.GitHubSecret
		}
		if !verifyGitHubSignature(secret, req.Header.Get("X-Hub-Signature-256"), body) {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "signature mismatch", nil))
			return
		}
		if err := handleGitHubEvent(req, ci, req.Header.Get("X-GitHub-Event"), body); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondAccepted(w)
	})

	r.Post(path.Join(basePath, "ci/gitlab"), func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(io.LimitReader(req.Body, ciBodyLimit))
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "unreadable body", nil))
			return
		}
		token := ""
		if e.Config != nil {
			token = e.Config.CI.GitLabToken
		}
		if token == "" || req.Header.Get("X-Gitlab-Token") != token {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "token mismatch", nil))
			return
		}
		if err := handleGitLabEvent(req, ci, req.Header.Get("X-Gitlab-Event"), body); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		respondAccepted(w)
	})
}

func respondAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// verifyGitHubSignature checks the sha256= HMAC header. An empty configured
// secret rejects everything rather than accepting everything.
func verifyGitHubSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

type githubPushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commits"`
}

type githubWorkflowPayload struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	} `json:"workflow_run"`
	Repository struct {
		HTMLURL string `json:"html_url"`
	} `json:"repository"`
}

func handleGitHubEvent(req *http.Request, ci cicd.Service, event string, body []byte) error {
	switch event {
	case "push":
		var payload githubPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		commits := make([]cicd.PushCommit, 0, len(payload.Commits))
		for _, c := range payload.Commits {
			commits = append(commits, cicd.PushCommit{
				SHA:     c.ID,
				Message: c.Message,
				Author:  c.Author.Name,
				URL:     c.URL,
			})
		}
		return ci.IngestPush(req.Context(), "github", payload.Repository.HTMLURL, branchFromRef(payload.Ref), commits)
	case "workflow_run":
		var payload githubWorkflowPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		status := "running"
		switch payload.WorkflowRun.Status {
		case "queued", "requested", "waiting":
			status = "pending"
		case "completed":
			switch payload.WorkflowRun.Conclusion {
			case "success":
				status = "success"
			case "cancelled":
				status = "cancelled"
			case "skipped":
				status = "skipped"
			default:
				status = "failed"
			}
		}
		return ci.IngestPipelineEvent(req.Context(), cicd.PipelineEvent{
			Provider:   "github",
			RepoURL:    payload.Repository.HTMLURL,
			ExternalID: strconv.FormatInt(payload.WorkflowRun.ID, 10),
			Status:     status,
			Branch:     payload.WorkflowRun.HeadBranch,
			CommitSHA:  payload.WorkflowRun.HeadSHA,
		})
	default:
		// Ping and anything else we do not track.
		return nil
	}
}

type gitlabPushPayload struct {
	Ref     string `json:"ref"`
	Project struct {
		WebURL string `json:"web_url"`
	} `json:"project"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		URL     string `json:"url"`
		Author  struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"commits"`
}

type gitlabPipelinePayload struct {
	ObjectAttributes struct {
		ID     int64  `json:"id"`
		Ref    string `json:"ref"`
		SHA    string `json:"sha"`
		Status string `json:"status"`
	} `json:"object_attributes"`
	Project struct {
		WebURL string `json:"web_url"`
	} `json:"project"`
}

func handleGitLabEvent(req *http.Request, ci cicd.Service, event string, body []byte) error {
	switch event {
	case "Push Hook":
		var payload gitlabPushPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		commits := make([]cicd.PushCommit, 0, len(payload.Commits))
		for _, c := range payload.Commits {
			commits = append(commits, cicd.PushCommit{
				SHA:     c.ID,
				Message: c.Message,
				Author:  c.Author.Name,
				URL:     c.URL,
			})
		}
		return ci.IngestPush(req.Context(), "gitlab", payload.Project.WebURL, branchFromRef(payload.Ref), commits)
	case "Pipeline Hook":
		var payload gitlabPipelinePayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return err
		}
		status := "running"
		switch payload.ObjectAttributes.Status {
		case "pending", "created":
			status = "pending"
		case "success":
			status = "success"
		case "failed":
			status = "failed"
		case "canceled", "cancelled":
			status = "cancelled"
		case "skipped":
			status = "skipped"
		}
		return ci.IngestPipelineEvent(req.Context(), cicd.PipelineEvent{
			Provider:   "gitlab",
			RepoURL:    payload.Project.WebURL,
			ExternalID: strconv.FormatInt(payload.ObjectAttributes.ID, 10),
			Status:     status,
			Branch:     branchFromRef(payload.ObjectAttributes.Ref),
			CommitSHA:  payload.ObjectAttributes.SHA,
		})
	default:
		return nil
	}
}

func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
