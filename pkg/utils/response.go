package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondErr maps err through the error taxonomy and writes it with the request id.
func RespondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[http] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	RespondJSON(w, status, NewErrorBody(r, err))
}

// NewErrorBody builds the caller-facing error payload for err.
func NewErrorBody(r *http.Request, err error) ErrorBody {
	body := ErrorBody{
		Error:   errs.Message(err),
		Code:    string(errs.KindOf(err)),
		Details: errs.DetailsOf(err),
	}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	return body
}
