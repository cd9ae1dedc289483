package providers

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
)

// WebhookClient は完了通知をベストエフォートでPOSTするアダプターです。
// 失敗はログに残すだけで呼び出し元へは伝播しません。
type WebhookClient struct {
	client *http.Client
	logger *log.Logger
}

// NewWebhookClient は WebhookClient を作成します。
func NewWebhookClient(client *http.Client, logger *log.Logger) *WebhookClient {
	return &WebhookClient{client: client, logger: logger}
}

// Notify は payload をJSONとして url へPOSTします。fire-and-forget です。
func (w *WebhookClient) Notify(url string, payload any) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.logf("webhook payload marshal failed url=%s: %v", url, err)
		return
	}

	resp, err := w.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.logf("webhook delivery failed url=%s: %v", url, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logf("webhook delivery returned status %d url=%s", resp.StatusCode, url)
	}
}

func (w *WebhookClient) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
