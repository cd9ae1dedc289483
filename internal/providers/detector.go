package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// DetectorClient はYOLOサイドカーへ画像を送り検出結果を受け取るアダプターです。
type DetectorClient struct {
	client  *http.Client
	baseURL string
}

// NewDetectorClient は DetectorClient を作成します。
func NewDetectorClient(client *http.Client, baseURL string) *DetectorClient {
	return &DetectorClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type detectRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type detectResponse struct {
	Detections []jobs.Detection `json:"detections"`
}

// Detect は画像内の物体を検出します。検出なしは空スライス（エラーではない）です。
func (d *DetectorClient) Detect(ctx context.Context, image []byte) ([]jobs.Detection, error) {
	payload, err := json.Marshal(detectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/yolo/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object detection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object detection returned status %d", resp.StatusCode)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse detection response: %w", err)
	}
	return result.Detections, nil
}
