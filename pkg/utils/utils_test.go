package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

func TestRespondErrIncludesRequestID(t *testing.T) {
	var rec *httptest.ResponseRecorder
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondErr(w, r, errs.Validation("missing required fields", map[string]string{"content": "required"}))
	}))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.Error != "missing required fields" || body.Code != "validation" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.RequestID == "" {
		t.Fatal("expected request id")
	}
	if body.Details["content"] != "required" {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestRespondErrHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErr(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("db password leaked"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body ErrorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != "internal server error" {
		t.Fatalf("internal error leaked: %q", body.Error)
	}
}

func TestSSEFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	if err := SendSSEChunk(rec, rec, map[string]string{"content": "hi"}); err != nil {
		t.Fatalf("SendSSEChunk err: %v", err)
	}
	if err := SendSSEDone(rec, rec); err != nil {
		t.Fatalf("SendSSEDone err: %v", err)
	}

	want := "data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected frames %q", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}
