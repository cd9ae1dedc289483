package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
)

const videosEndpoint = "https://www.googleapis.com/youtube/v3/videos"

// ErrDurationUnknown は動画長が取得できなかったことを表します。
// 呼び出し側は既定値へフォールバックします。
var ErrDurationUnknown = fmt.Errorf("video duration unknown")

// DurationClient はYouTube Data APIから動画の長さを取得するアダプターです。
type DurationClient struct {
	client *http.Client
	apiKey string
}

// NewDurationClient は DurationClient を作成します。
func NewDurationClient(client *http.Client, apiKey string) *DurationClient {
	return &DurationClient{client: client, apiKey: apiKey}
}

type videosListResponse struct {
	Items []struct {
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Duration は動画の長さを秒で返します。APIキー未設定・動画なし・解析失敗の
// 場合は ErrDurationUnknown を返します。
func (d *DurationClient) Duration(ctx context.Context, videoID string) (float64, error) {
	if d.apiKey == "" {
		return 0, ErrDurationUnknown
	}

	params := url.Values{}
	params.Set("part", "contentDetails")
	params.Set("id", videoID)
	params.Set("key", d.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videosEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("duration lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("duration lookup returned status %d", resp.StatusCode)
	}

	var payload videosListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to parse videos response: %w", err)
	}
	if len(payload.Items) == 0 {
		return 0, ErrDurationUnknown
	}

	seconds, ok := ParseISO8601Duration(payload.Items[0].ContentDetails.Duration)
	if !ok {
		return 0, ErrDurationUnknown
	}
	return seconds, nil
}

var iso8601DurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISO8601Duration は "PT1H2M3S" 形式の動画長を秒に変換します。
func ParseISO8601Duration(value string) (float64, bool) {
	m := iso8601DurationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, false
	}
	total := 0.0
	units := []float64{3600, 60, 1}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, false
		}
		total += float64(n) * unit
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}
