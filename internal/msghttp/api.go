package msghttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/craddockd/msgwall/internal/httpmw"
	"github.com/craddockd/msgwall/internal/log"
)

// MaxContentRunes bounds a single message body.
const MaxContentRunes = 2000

// API implements the messaging endpoints.
type API struct {
	store  *Store
	logger log.Logger
	now    func() time.Time

	// OnCreated fires after a message is accepted, for metrics.
	OnCreated func()
}

// NewAPI creates the messaging API handler over store.
func NewAPI(store *Store, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterRoutes attaches the messaging endpoints to the router. The admin
// listing sits under /api/admin so the role gate covers it by prefix.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("messages"))
		r.Post("/api/messages", api.HandleCreateMessage)
		r.Get("/api/messages", api.HandleListMessages)
		r.Get("/api/conversations", api.HandleListConversations)
		r.Get("/api/admin/messages", api.HandleListAllMessages)
	})
}

// HandleCreateMessage accepts a message from the authenticated caller.
func (api *API) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := httpmw.IdentityFromContext(ctx)
	if id.User == "" {
		api.writeError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "invalid_body", bodyErrorMessage(err))
		return
	}
	if msg, ok := validateCreate(req); !ok {
		api.writeError(ctx, w, http.StatusBadRequest, "invalid_message", msg)
		return
	}

	m := api.store.Add(id.User, strings.TrimSpace(req.Recipient), req.Content, api.now())
	if api.OnCreated != nil {
		api.OnCreated()
	}

	api.logger.Debug(ctx, "message created",
		"message_id", m.ID,
		"recipient", m.Recipient,
	)

	api.writeJSON(ctx, w, http.StatusCreated, m)
}

// HandleListMessages lists the caller's messages, optionally narrowed to one
// conversation via ?peer=.
func (api *API) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := httpmw.IdentityFromContext(ctx)
	if id.User == "" {
		api.writeError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	msgs := api.store.For(id.User, strings.TrimSpace(r.URL.Query().Get("peer")))
	api.writeJSON(ctx, w, http.StatusOK, MessageList{Messages: msgs, Count: len(msgs)})
}

// HandleListConversations summarizes the caller's conversations.
func (api *API) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := httpmw.IdentityFromContext(ctx)
	if id.User == "" {
		api.writeError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}

	convs := api.store.Conversations(id.User)
	api.writeJSON(ctx, w, http.StatusOK, ConversationList{Conversations: convs, Count: len(convs)})
}

// HandleListAllMessages lists every message. Reached only through the role
// gate's protected prefix.
func (api *API) HandleListAllMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	msgs := api.store.All()
	api.writeJSON(ctx, w, http.StatusOK, MessageList{Messages: msgs, Count: len(msgs)})
}

func validateCreate(req CreateMessageRequest) (string, bool) {
	if strings.TrimSpace(req.Recipient) == "" {
		return "recipient is required", false
	}
	if strings.TrimSpace(req.Content) == "" {
		return "content is required", false
	}
	if utf8.RuneCountInString(req.Content) > MaxContentRunes {
		return "content too long", false
	}
	return "", true
}

func bodyErrorMessage(err error) string {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return "request body too large"
	}
	return "request body must be valid JSON"
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	api.writeJSON(ctx, w, status, ErrorResponse{Error: code, Message: msg})
}
