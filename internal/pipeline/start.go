package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/yourusername/piggyback-video/internal/jobs"
	"github.com/yourusername/piggyback-video/internal/providers"
)

const (
	defaultNumQuestions     = 5
	defaultKeyframeInterval = 30.0
)

// StartRequest は動画解析ジョブの開始入力です。
type StartRequest struct {
	YouTubeURL       string  `json:"youtube_url"`
	Title            string  `json:"title"`
	Language         string  `json:"language"`
	FullAnalysis     bool    `json:"full_analysis"`
	NumQuestions     int     `json:"num_questions"`
	KeyframeInterval float64 `json:"keyframe_interval"`
	WebhookURL       string  `json:"webhook_url"`
}

// StartVideo は動画ジョブを開始します。既に同じIDのジョブが進行中の場合は
// 新しいジョブを作らず (既存レコード, true, nil) を返します。
func (s *Service) StartVideo(ctx context.Context, jobID string, req StartRequest) (*jobs.Record, bool, error) {
	videoID, err := providers.ExtractVideoID(req.YouTubeURL)
	if err != nil {
		return nil, false, &Error{Code: "INVALID_INPUT", Message: "有効なYouTubeのURLまたは動画IDを指定してください。"}
	}

	existing, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return existing, true, nil
	}
	// 同じIDの前回ジョブが閉じたトークンを残していると新しいジョブの
	// ステップがすべて no-op になるため、ここで破棄する。
	s.releaseToken(jobID)

	mode := jobs.ModeQuick
	step := StepQuickVideo
	if req.FullAnalysis {
		mode = jobs.ModeFull
		step = StepFetchTranscript
	}

	numQuestions := req.NumQuestions
	if numQuestions <= 0 {
		numQuestions = defaultNumQuestions
	}
	interval := req.KeyframeInterval
	if interval <= 0 {
		interval = defaultKeyframeInterval
	}

	record := &jobs.Record{
		JobID:            jobID,
		Status:           jobs.StatusProcessing,
		Mode:             mode,
		Progress:         "Starting processing",
		VideoRef:         videoID,
		Title:            strings.TrimSpace(req.Title),
		Language:         req.Language,
		NumQuestions:     numQuestions,
		KeyframeInterval: interval,
		WebhookURL:       req.WebhookURL,
		StartTime:        time.Now().UTC().Unix(),
	}
	if err := s.store.Put(ctx, record); err != nil {
		return nil, false, err
	}

	if err := s.schedule(ctx, jobID, step, 0); err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// StartQuickImage は画像1枚の単発ジョブを開始します。
func (s *Service) StartQuickImage(ctx context.Context, jobID, imageBase64 string) (*jobs.Record, bool, error) {
	existing, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return existing, true, nil
	}
	s.releaseToken(jobID)

	record := &jobs.Record{
		JobID:       jobID,
		Status:      jobs.StatusProcessing,
		Mode:        jobs.ModeQuick,
		Progress:    "Starting processing",
		ImageBase64: imageBase64,
		StartTime:   time.Now().UTC().Unix(),
	}
	if err := s.store.Put(ctx, record); err != nil {
		return nil, false, err
	}

	if err := s.schedule(ctx, jobID, StepQuickImage, 0); err != nil {
		return nil, false, err
	}
	return record, false, nil
}

// ResultsView はポーリング応答用のレコード＋所要時間の見積もりです。
type ResultsView struct {
	*jobs.Record
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds,omitempty"`
}

// Results は現在のレコードを返し、副作用として次のステップを投入します。
// 非終端の間は経過時間とステップ数ベースの残り時間見積もりを付けます。
func (s *Service) Results(ctx context.Context, jobID string) (*ResultsView, error) {
	_, record, err := s.Advance(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &ResultsView{Record: record}
	if record.StartTime > 0 {
		view.ElapsedSeconds = time.Since(time.Unix(record.StartTime, 0)).Seconds()
	}
	if !record.Status.IsTerminal() {
		view.RemainingSeconds = estimateRemaining(record, view.ElapsedSeconds)
	}
	return view, nil
}

// estimateRemaining は完了済みステップの平均所要時間から残り時間を見積もります。
func estimateRemaining(record *jobs.Record, elapsed float64) float64 {
	totalSections := record.TotalSections
	if totalSections == 0 {
		totalSections = record.NumQuestions
	}
	totalBatches := record.TotalKeyframeBatches

	// fetch-transcript と combine-results の分を足した全ステップ数。
	total := totalSections + totalBatches + 2

	done := record.CurrentSection + record.CurrentKeyframeBatch
	if record.Status != jobs.StatusProcessing {
		done++ // transcript 取得済み
	}
	if done <= 0 || elapsed <= 0 {
		return 0
	}
	remaining := elapsed / float64(done) * float64(total-done)
	if remaining < 0 {
		return 0
	}
	return remaining
}
