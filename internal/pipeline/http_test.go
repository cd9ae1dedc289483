package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// tinyJPEG はmimetype判定を通る最小のJPEGペイロードです。
func tinyJPEG() []byte {
	payload := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	return append(payload, bytes.Repeat([]byte{0x00}, 64)...)
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, svc, HandlerOptions{MaxImageSizeBytes: 1024 * 1024})
	return router
}

func TestQuickImageScenario(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	router := newTestRouter(svc)

	body, err := json.Marshal(map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(tinyJPEG()),
	})
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/quick/img1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	// 同期スケジューラーなのでステップは完了済み。ポーリングで結果を得る。
	pollReq := httptest.NewRequest(http.MethodGet, "/api/v1/video/polling/img1", nil)
	pollRec := httptest.NewRecorder()
	router.ServeHTTP(pollRec, pollReq)

	if pollRec.Code != http.StatusOK {
		t.Fatalf("unexpected polling status: %d body=%s", pollRec.Code, pollRec.Body.String())
	}

	var view struct {
		Status    jobs.Status     `json:"status"`
		Questions []jobs.Question `json:"questions"`
	}
	if err := json.Unmarshal(pollRec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to parse polling response: %v", err)
	}
	if view.Status != jobs.StatusComplete {
		t.Fatalf("expected complete, got %s", view.Status)
	}
	if len(view.Questions) != 1 {
		t.Fatalf("expected one question, got %d", len(view.Questions))
	}

	question := view.Questions[0]
	if len(question.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(question.Options))
	}
	found := false
	for _, opt := range question.Options {
		if opt == question.Answer {
			found = true
		}
	}
	if !found {
		t.Fatalf("answer %q is not among options %v", question.Answer, question.Options)
	}
}

func TestQuickImageGeneratesJobID(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString(tinyJPEG()),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/quick", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["job_id"] == "" {
		t.Fatal("expected a generated job_id")
	}
}

func TestQuickImageRejectsNonImage(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]string{
		"image_base64": base64.StdEncoding.EncodeToString([]byte("definitely not an image payload")),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/quick/img2", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}
}

func TestProcessHandlerRejectsInvalidURL(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"youtube_url":   "not a video",
		"full_analysis": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/video/process/v1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProcessHandlerAlreadyProcessing(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	// ジョブを進行中で止めるため、何も実行しないスケジューラーを使う。
	svc.SetScheduler(schedulerFunc(func(ctx context.Context, jobID string, step Step, index int) error {
		return nil
	}))
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"youtube_url":   "https://www.youtube.com/watch?v=abc123xyz_0",
		"full_analysis": true,
	})

	first := httptest.NewRequest(http.MethodPost, "/api/v1/video/process/dup1", bytes.NewReader(body))
	first.Header.Set("Content-Type", "application/json")
	firstRec := httptest.NewRecorder()
	router.ServeHTTP(firstRec, first)
	if firstRec.Code != http.StatusAccepted {
		t.Fatalf("unexpected first status: %d body=%s", firstRec.Code, firstRec.Body.String())
	}

	second := httptest.NewRequest(http.MethodPost, "/api/v1/video/process/dup1", bytes.NewReader(body))
	second.Header.Set("Content-Type", "application/json")
	secondRec := httptest.NewRecorder()
	router.ServeHTTP(secondRec, second)

	if secondRec.Code != http.StatusOK {
		t.Fatalf("unexpected second status: %d", secondRec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(secondRec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != "already_processing" {
		t.Fatalf("unexpected status field: %s", payload["status"])
	}
}

func TestCancelHandlerIsIdempotent(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	svc.SetScheduler(schedulerFunc(func(ctx context.Context, jobID string, step Step, index int) error {
		return nil
	}))
	router := newTestRouter(svc)

	body, _ := json.Marshal(map[string]any{
		"youtube_url":   "abc123xyz_0",
		"full_analysis": true,
	})
	start := httptest.NewRequest(http.MethodPost, "/api/v1/video/process/c1", bytes.NewReader(body))
	start.Header.Set("Content-Type", "application/json")
	startRec := httptest.NewRecorder()
	router.ServeHTTP(startRec, start)
	if startRec.Code != http.StatusAccepted {
		t.Fatalf("unexpected start status: %d", startRec.Code)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/video/cancel/c1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel %d: unexpected status %d", i+1, rec.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if payload["status"] != string(jobs.StatusCancelled) {
			t.Fatalf("cancel %d: unexpected status field %v", i+1, payload["status"])
		}
	}
}

func TestPollingUnknownJob(t *testing.T) {
	svc := newTestService(t, fullProviders(), Options{})
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/video/polling/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
