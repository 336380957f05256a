package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/aide/internal/consolidate"
	"github.com/kalambet/aide/internal/ingest"
	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/storage"
	"github.com/kalambet/aide/internal/workspace"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// Assistant answers a chat message for a user.
type Assistant interface {
	Handle(ctx context.Context, userID, message string) (string, error)
}

// Consolidator files a user's log into wiki pages.
type Consolidator interface {
	Run(ctx context.Context, userID string) (consolidate.Result, error)
}

// Ingester turns external material into memory notes.
type Ingester interface {
	Ingest(ctx context.Context, userID string, req ingest.Request) (ingest.Result, error)
}

// DeliveryStore exposes the delivery journal.
type DeliveryStore interface {
	ListDeliveries(userID, status string) ([]storage.Delivery, error)
	RetryDelivery(userID, key string, now time.Time) error
}

// AppDeps holds dependencies for the HTTP API. Assistant, Consolidator,
// Ingester and Deliveries are optional; their routes answer 503 when nil.
type AppDeps struct {
	Root         *workspace.Root
	Book         *reminder.Book
	Assistant    Assistant
	Consolidator Consolidator
	Ingester     Ingester
	Deliveries   DeliveryStore
	Token        string
	// Wake, if set, receives a non-blocking signal after a reminder is added
	// so the poller can deliver an already-due reminder without waiting.
	Wake chan<- struct{}
	Now  func() time.Time
}

type ReminderRequest struct {
	Text string `json:"text"`
	Due  string `json:"due"`
}

type CompleteRequest struct {
	Text string `json:"text"`
}

type MemoryRequest struct {
	Content string `json:"content"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

// NewAppHandler returns the router for /health and the authenticated
// per-user routes.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLog)
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/users", handleListUsers(deps))
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/reminders", handleListReminders(deps))
			r.Post("/reminders", handleAddReminder(deps))
			r.Get("/reminders/due", handleDueReminders(deps))
			r.Post("/reminders/complete", handleCompleteByText(deps))
			r.Post("/reminders/{reminderID}/complete", handleCompleteReminder(deps))

			r.Get("/memory", handleGetMemory(deps))
			r.Post("/memory", handleAppendMemory(deps))
			r.Put("/memory", handleOverwriteMemory(deps))

			r.Post("/chat", handleChat(deps))
			r.Post("/ingest", handleIngest(deps))
			r.Post("/consolidate", handleConsolidate(deps))

			r.Get("/deliveries", handleListDeliveries(deps))
			r.Post("/deliveries/{key}/retry", handleRetryDelivery(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListUsers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := deps.Root.UserIDs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list users: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ids)
	}
}

func handleListReminders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Book.List(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		status := r.URL.Query().Get("status")
		out := make([]reminder.Reminder, 0, len(list))
		for _, rem := range list {
			switch {
			case status == "open" && rem.Completed, status == "completed" && !rem.Completed:
				continue
			}
			out = append(out, rem)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAddReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ReminderRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		rem, err := deps.Book.Add(r.Context(), chi.URLParam(r, "userID"), req.Text, req.Due)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if deps.Wake != nil {
			select {
			case deps.Wake <- struct{}{}:
			default:
			}
		}
		writeJSON(w, http.StatusCreated, rem)
	}
}

func handleDueReminders(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		due, err := deps.Book.Due(r.Context(), chi.URLParam(r, "userID"), deps.Now())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if due == nil {
			due = []reminder.Reminder{}
		}
		writeJSON(w, http.StatusOK, due)
	}
}

func handleCompleteReminder(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "reminderID")
		ok, err := deps.Book.Complete(r.Context(), chi.URLParam(r, "userID"), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no open reminder with id %q", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func handleCompleteByText(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		ok, err := deps.Book.MarkComplete(r.Context(), chi.URLParam(r, "userID"), req.Text)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no open reminder matching %q", req.Text)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func handleGetMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Root.User(chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		content, err := u.ReadMemory()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_id": u.ID(), "content": content})
	}
}

func handleAppendMemory(deps AppDeps) http.HandlerFunc {
	return writeMemory(deps, func(u *workspace.User, content string) error {
		return u.AppendMemory(content)
	})
}

func handleOverwriteMemory(deps AppDeps) http.HandlerFunc {
	return writeMemory(deps, func(u *workspace.User, content string) error {
		return u.OverwriteMemory(content)
	})
}

func writeMemory(deps AppDeps, write func(u *workspace.User, content string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MemoryRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		u, err := deps.Root.User(chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := write(u, req.Content); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to write memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Assistant == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "chat is not configured: missing OpenRouter API key")
			return
		}
		var req ChatRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		reply, err := deps.Assistant.Handle(r.Context(), chi.URLParam(r, "userID"), req.Message)
		if err != nil {
			if errors.Is(err, workspace.ErrInvalidIdentifier) {
				writeDomainError(w, err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	}
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ingester == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "ingest is not configured")
			return
		}
		var req ingest.Request
		if !decodeBody(w, r, maxIngestBodySize, &req) {
			return
		}
		res, err := deps.Ingester.Ingest(r.Context(), chi.URLParam(r, "userID"), req)
		switch {
		case err == nil:
			writeJSON(w, http.StatusCreated, res)
		case errors.Is(err, ingest.ErrEmptyContent), errors.Is(err, ingest.ErrUnsupportedType):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, workspace.ErrInvalidIdentifier):
			writeDomainError(w, err)
		default:
			httpError(w, http.StatusBadGateway, "api_error", "ingest failed: %v", err)
		}
	}
}

func handleConsolidate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Consolidator == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "consolidation is not configured: missing OpenRouter API key")
			return
		}
		userID := chi.URLParam(r, "userID")
		res, err := deps.Consolidator.Run(r.Context(), userID)
		if errors.Is(err, consolidate.ErrNothingToConsolidate) {
			writeJSON(w, http.StatusOK, map[string]any{"status": "nothing_to_consolidate", "files": []string{}})
			return
		}
		if err != nil {
			if errors.Is(err, workspace.ErrInvalidIdentifier) {
				writeDomainError(w, err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "consolidation failed: %v", err)
			return
		}
		tree, err := consolidate.Tree(deps.Root, userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to render wiki tree: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "consolidated",
			"files":  res.Files,
			"added":  res.Added,
			"tree":   tree,
		})
	}
}

func handleListDeliveries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Deliveries == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "delivery journal is not configured")
			return
		}
		userID, err := workspace.Sanitize(chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		list, err := deps.Deliveries.ListDeliveries(userID, r.URL.Query().Get("status"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list deliveries: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleRetryDelivery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Deliveries == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "delivery journal is not configured")
			return
		}
		userID, err := workspace.Sanitize(chi.URLParam(r, "userID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		key, err := url.PathUnescape(chi.URLParam(r, "key"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid delivery key: %v", err)
			return
		}
		err = deps.Deliveries.RetryDelivery(userID, key, deps.Now())
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no retryable delivery %q", key)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry delivery: %v", err)
			return
		}
		if deps.Wake != nil {
			select {
			case deps.Wake <- struct{}{}:
			default:
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
