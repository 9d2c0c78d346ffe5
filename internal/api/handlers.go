package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rayadhanush/infrapilot-kb/internal/indexer"
	"github.com/rayadhanush/infrapilot-kb/internal/ingest"
)

type converseRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type converseResponse struct {
	Response string `json:"response"`
}

// handleConverse runs one conversation turn. Soft dialogue outcomes come
// back as 200 with explanatory text; only a missing message (400),
// missing identity (401), or collaborator failure (500) are hard errors.
func (s *Server) handleConverse(engine Converser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}

		var req converseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			writeJSON(w, http.StatusBadRequest, converseResponse{Response: "User input is required"})
			return
		}
		if req.SessionID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
			return
		}

		reply, err := engine.Turn(r.Context(), user, req.SessionID, req.Message)
		if err != nil {
			s.logger.Error("turn failed", "session_id", req.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to process message")
			return
		}
		writeJSON(w, http.StatusOK, converseResponse{Response: reply})
	}
}

type deploymentResource struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id"`
	ResourceName string `json:"resource_name"`
	Value        string `json:"value"`
	IsSensitive  bool   `json:"is_sensitive"`
	Timestamp    string `json:"timestamp"`

	IPAddress string `json:"ip_address,omitempty"`
	DNSName   string `json:"dns_name,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

type deployment struct {
	SessionID string               `json:"session_id"`
	Resources []deploymentResource `json:"resources"`
	Timestamp string               `json:"timestamp"`
}

type notificationsResponse struct {
	UserID           string       `json:"user_id"`
	Deployments      []deployment `json:"deployments"`
	TotalDeployments int          `json:"total_deployments"`
	TotalResources   int          `json:"total_resources"`
}

// handleNotifications returns the caller's provisioned resources grouped
// by the session that requested them, newest deployment first.
func (s *Server) handleNotifications(resources ResourceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userID(r)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}

		stored, err := resources.ByUser(r.Context(), user)
		if err != nil {
			s.logger.Error("listing resources failed", "user", user, "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to fetch deployments")
			return
		}

		resp := notificationsResponse{
			UserID:      user,
			Deployments: groupBySession(stored),
		}
		resp.TotalDeployments = len(resp.Deployments)
		for _, d := range resp.Deployments {
			resp.TotalResources += len(d.Resources)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// groupBySession folds resource rows into per-session deployments,
// preserving the newest-first row order from the store.
func groupBySession(stored []ingest.StoredResource) []deployment {
	deployments := make([]deployment, 0)
	index := make(map[string]int)

	for _, res := range stored {
		i, ok := index[res.SessionID]
		if !ok {
			i = len(deployments)
			index[res.SessionID] = i
			deployments = append(deployments, deployment{
				SessionID: res.SessionID,
				Timestamp: res.CreatedAt.Format(time.RFC3339),
			})
		}
		deployments[i].Resources = append(deployments[i].Resources, deploymentResource{
			Type:         res.Type,
			DeploymentID: res.DeploymentID,
			ResourceName: res.Name,
			Value:        res.Value,
			IsSensitive:  res.Sensitive,
			Timestamp:    res.CreatedAt.Format(time.RFC3339),
			IPAddress:    res.IPAddress,
			DNSName:      res.DNSName,
			Endpoint:     res.Endpoint,
			Username:     res.Username,
			Password:     res.Password,
		})
	}
	return deployments
}

// handleDocsWebhook processes a git-push webhook against the document
// index and reports what was processed.
func (s *Server) handleDocsWebhook(ix PushProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev indexer.PushEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid webhook payload")
			return
		}
		if ev.Repository.FullName == "" || ev.HeadCommit.ID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing repository or commit")
			return
		}

		summary := ix.ProcessPush(r.Context(), ev)
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Processed added, modified, and removed files",
			"summary": summary,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness only when both backing stores answer.
func (s *Server) handleReady(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", "postgres unreachable")
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", "redis unreachable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
