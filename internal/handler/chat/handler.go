package chat

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/handler/stream"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	chatService "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	relay  *relay.Relay
	store  chatService.Store
	stream *stream.Handler
}

// New 创建聊天处理器
func New(r *relay.Relay, store chatService.Store, streamHandler *stream.Handler) *Handler {
	return &Handler{
		relay:  r,
		store:  store,
		stream: streamHandler,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/conversations", h.handleListConversations)
	r.Get("/conversations/{id}", h.handleGetConversation)
	r.Delete("/conversations/{id}", h.handleDeleteConversation)
}

type chatPayload struct {
	Content        string              `json:"content"`
	Mood           string              `json:"mood"`
	ConversationID chat.ConversationID `json:"conversationId"`
	Stream         bool                `json:"stream"`
}

// ChatResponse is the buffered reply body.
type ChatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversationId"`
	Mood           string `json:"mood"`
}

// handleChat 处理聊天请求，按需切换为SSE流式响应
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondErr(w, r, errs.Validation("invalid request body", nil))
		return
	}

	if payload.Stream || wantsEventStream(r) {
		if err := requireFields(payload); err != nil {
			utils.RespondErr(w, r, err)
			return
		}
		if err := h.relay.RequireConfigured(); err != nil {
			utils.RespondErr(w, r, err)
			return
		}
		h.stream.Serve(w, r, relay.StreamRequest{
			ConversationID: payload.ConversationID.String(),
			Content:        payload.Content,
			Mood:           payload.Mood,
			Transport:      relay.TransportSSE,
		})
		return
	}

	reply, err := h.relay.Complete(r.Context(), relay.ChatRequest{
		ConversationID: payload.ConversationID.String(),
		Content:        payload.Content,
		Mood:           payload.Mood,
	})
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, ChatResponse{
		Content:        reply.Content,
		ConversationID: reply.ConversationID,
		Mood:           string(reply.Mood),
	})
}

// requireFields rejects a streamed request before the event stream is opened so the
// caller still gets a 400. Missing credentials are checked the same way and answer 500.
func requireFields(p chatPayload) error {
	details := map[string]string{}
	if strings.TrimSpace(p.ConversationID.String()) == "" {
		details["conversationId"] = "required"
	}
	if strings.TrimSpace(p.Content) == "" {
		details["content"] = "required"
	}
	if len(details) > 0 {
		return errs.Validation("missing required fields", details)
	}
	return nil
}

func wantsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}

// handleListConversations 按创建时间倒序列出会话
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.List(r.Context())
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondErr(w, r, conversationError(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		utils.RespondErr(w, r, conversationError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func conversationError(err error) error {
	if errors.Is(err, chat.ErrConversationNotFound) {
		return errs.NotFound("conversation not found")
	}
	return err
}
