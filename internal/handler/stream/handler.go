package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/service/relay"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	relay *relay.Relay
}

// New creates a new stream handler
func New(r *relay.Relay) *Handler {
	return &Handler{relay: r}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/{id}/stream", h.handleStream)
}

// Chunk is one delta frame.
type Chunk struct {
	Content string `json:"content"`
}

// handleStream answers from the stored history, or from ?message= when given.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	h.Serve(w, r, relay.StreamRequest{
		ConversationID:  chi.URLParam(r, "id"),
		Content:         query.Get("message"),
		Mood:            query.Get("mood"),
		RequireExisting: true,
		Transport:       relay.TransportSSE,
	})
}

// Serve writes one relay exchange as an event stream. Failures after the headers are
// sent are reported as a single error frame without [DONE].
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, req relay.StreamRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher, requestID: middleware.GetReqID(r.Context())}
	if err := h.relay.Stream(r.Context(), req, sink); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[stream] conversation=%s ended with error: %v", req.ConversationID, err)
	}
}

// sseSink adapts relay deltas to SSE frames.
type sseSink struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	requestID string
}

func (s *sseSink) Delta(content string) error {
	if err := utils.SendSSEChunk(s.w, s.flusher, Chunk{Content: content}); err != nil {
		return fmt.Errorf("send delta: %w", err)
	}
	return nil
}

func (s *sseSink) Done(string) error {
	return utils.SendSSEDone(s.w, s.flusher)
}

func (s *sseSink) Fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	frame := utils.ErrorBody{
		Error:     errs.Message(err),
		Code:      string(errs.KindOf(err)),
		RequestID: s.requestID,
		Details:   errs.DetailsOf(err),
	}
	if sendErr := utils.SendSSEChunk(s.w, s.flusher, frame); sendErr != nil {
		log.Printf("[stream] failed to deliver error frame: %v", sendErr)
	}
}
