package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

const (
	timedTextEndpoint  = "https://video.google.com/timedtext"
	transcriptAttempts = 3
	backoffBase        = time.Second
)

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})(?:[?&/].*)?$`)
var bareVideoIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)

// ExtractVideoID はYouTubeのURLまたはIDそのものから11文字の動画IDを取り出します。
func ExtractVideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if bareVideoIDPattern.MatchString(ref) {
		return ref, nil
	}
	if m := videoIDPattern.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("invalid YouTube reference: %q", ref)
}

// TranscriptClient はYouTubeの字幕トラックを取得するアダプターです。
// ネットワーク取得に複数回失敗した場合、開発環境向けの組み込みトランスクリプト
// （正規化されたIDをキーとする）へフォールバックします。
type TranscriptClient struct {
	client      *http.Client
	defaultLang string
	logger      *log.Logger
}

// NewTranscriptClient は TranscriptClient を作成します。
// defaultLang はリクエストに言語指定がない場合に使う字幕言語です。
func NewTranscriptClient(client *http.Client, defaultLang string, logger *log.Logger) *TranscriptClient {
	if defaultLang == "" {
		defaultLang = "en"
	}
	return &TranscriptClient{client: client, defaultLang: defaultLang, logger: logger}
}

type timedTextDoc struct {
	Texts []struct {
		Start    float64 `xml:"start,attr"`
		Duration float64 `xml:"dur,attr"`
		Body     string  `xml:",chardata"`
	} `xml:"text"`
}

// Fetch は動画IDの字幕キューを取得します。指数バックオフ付きで最大3回試行し、
// すべて失敗した場合は組み込みトランスクリプトを探します。
func (t *TranscriptClient) Fetch(ctx context.Context, videoID, language string) ([]jobs.Cue, error) {
	if language == "" {
		language = t.defaultLang
	}

	var lastErr error
	for attempt := 0; attempt < transcriptAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		cues, err := t.fetchOnce(ctx, videoID, language)
		if err == nil && len(cues) > 0 {
			return cues, nil
		}
		if err == nil {
			err = fmt.Errorf("transcript is empty for video %s", videoID)
		}
		lastErr = err
		if t.logger != nil {
			t.logger.Printf("transcript attempt %d/%d failed video=%s: %v", attempt+1, transcriptAttempts, videoID, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if cues, ok := manualTranscript(videoID); ok {
		if t.logger != nil {
			t.logger.Printf("using built-in transcript video=%s", videoID)
		}
		return cues, nil
	}

	return nil, fmt.Errorf("transcript unavailable for video %s: %w", videoID, lastErr)
}

func (t *TranscriptClient) fetchOnce(ctx context.Context, videoID, language string) ([]jobs.Cue, error) {
	params := url.Values{}
	params.Set("lang", language)
	params.Set("v", videoID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, timedTextEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("timedtext returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc timedTextDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse timedtext response: %w", err)
	}

	cues := make([]jobs.Cue, 0, len(doc.Texts))
	for _, text := range doc.Texts {
		body := strings.TrimSpace(text.Body)
		if body == "" {
			continue
		}
		cues = append(cues, jobs.Cue{
			Text:     body,
			Start:    text.Start,
			Duration: text.Duration,
		})
	}
	return cues, nil
}
