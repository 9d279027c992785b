// Package poll exposes the relay to clients that cannot hold a stream open.
package poll

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

// Handler 轮询接口处理器
type Handler struct {
	relay *relay.Relay
}

// New 创建轮询处理器
func New(r *relay.Relay) *Handler {
	return &Handler{relay: r}
}

// RegisterRoutes 注册轮询路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/{id}/poll", h.handleStart)
	r.Get("/chat/{id}/poll", h.handlePoll)
}

type startPayload struct {
	Content string `json:"content"`
	Mood    string `json:"mood"`
}

// handleStart 启动一次后台生成，客户端随后轮询结果
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload startPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondErr(w, r, errs.Validation("invalid request body", nil))
		return
	}

	id := chi.URLParam(r, "id")
	err := h.relay.StartPoll(r.Context(), relay.StreamRequest{
		ConversationID: id,
		Content:        payload.Content,
		Mood:           payload.Mood,
		Transport:      relay.TransportPoll,
	})
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{
		"status":         "accepted",
		"conversationId": id,
	})
}

// handlePoll 返回自上次轮询以来新产生的内容
func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	result, err := h.relay.Poll(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}
