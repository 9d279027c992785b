package mood

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	analysis "github.com/zhouzirui/mood-coach/backend/internal/analysis/mood"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
	"github.com/zhouzirui/mood-coach/backend/internal/model/chat"
	"github.com/zhouzirui/mood-coach/backend/internal/model/mood"
	chatService "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

// Handler 心情分析的HTTP处理器
type Handler struct {
	store chatService.Store
	now   func() time.Time
}

// New 创建心情处理器
func New(store chatService.Store) *Handler {
	return &Handler{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes 注册心情相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/moods", h.handleListMoods)
	r.Get("/mood-analysis", h.handleAnalysis)
	r.Get("/mood-analysis/{conversationId}", h.handleConversationAnalysis)
}

// handleListMoods 列出所有心情及其评分
func (h *Handler) handleListMoods(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, mood.Entries())
}

func (h *Handler) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filter(r)
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}

	conversations, err := h.store.List(r.Context())
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, analysis.Analyze(conversations, filter))
}

func (h *Handler) handleConversationAnalysis(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filter(r)
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}

	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		utils.RespondErr(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, analysis.Analyze([]chat.Conversation{conv}, filter))
}

func (h *Handler) filter(r *http.Request) (analysis.Filter, error) {
	filter, err := analysis.ParseRange(r.URL.Query().Get("range"), h.now())
	if err != nil {
		return analysis.Filter{}, errs.Validation(err.Error(), map[string]string{"range": "week, month, year or all"})
	}
	return filter, nil
}
