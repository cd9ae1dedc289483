package providers

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
)

const thumbnailBaseURL = "https://i.ytimg.com/vi"

// ThumbnailClient は指定タイムスタンプ付近のサムネイル画像を取得するアダプターです。
// YouTubeは動画を三分割した位置のサムネイル(1.jpg〜3.jpg)を配信しているため、
// タイムスタンプの動画内での相対位置から最も近いものを選びます。
// 取得できない場合は動画の既定サムネイル(hqdefault.jpg)へフォールバックします。
type ThumbnailClient struct {
	client *http.Client
	logger *log.Logger
}

// NewThumbnailClient は ThumbnailClient を作成します。
func NewThumbnailClient(client *http.Client, logger *log.Logger) *ThumbnailClient {
	return &ThumbnailClient{client: client, logger: logger}
}

// Image は videoID の timestamp 付近のJPEG画像を返します。
// duration はサムネイル位置の選択にだけ使い、0以下なら中間のものを使います。
func (t *ThumbnailClient) Image(ctx context.Context, videoID string, timestamp, duration float64) ([]byte, error) {
	slot := 2
	if duration > 0 {
		switch {
		case timestamp < duration/3:
			slot = 1
		case timestamp < 2*duration/3:
			slot = 2
		default:
			slot = 3
		}
	}

	image, err := t.fetch(ctx, fmt.Sprintf("%s/%s/hq%d.jpg", thumbnailBaseURL, videoID, slot))
	if err == nil {
		return image, nil
	}
	if t.logger != nil {
		t.logger.Printf("thumbnail fetch failed video=%s ts=%.1f, using default: %v", videoID, timestamp, err)
	}

	image, err = t.fetch(ctx, fmt.Sprintf("%s/%s/hqdefault.jpg", thumbnailBaseURL, videoID))
	if err != nil {
		return nil, fmt.Errorf("thumbnail unavailable for video %s: %w", videoID, err)
	}
	return image, nil
}

func (t *ThumbnailClient) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
