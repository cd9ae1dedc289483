package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// RunStep は1ステップをハードタイムアウト付きで実行します。期限超過は
// ステップの再試行ではなくジョブ自体の timeout として記録します。
// jobs.Manager のタスクハンドラーと同期実行の両方から呼ばれます。
func (s *Service) RunStep(ctx context.Context, jobID string, step string, index int) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
	defer cancel()

	var err error
	switch Step(step) {
	case StepFetchTranscript:
		err = s.FetchTranscript(ctx, jobID)
	case StepProcessSection:
		err = s.ProcessSection(ctx, jobID, index)
	case StepProcessKeyframe:
		err = s.ProcessKeyframeBatch(ctx, jobID, index)
	case StepCombineResults:
		err = s.CombineResults(ctx, jobID)
	case StepQuickImage:
		err = s.QuickImage(ctx, jobID)
	case StepQuickVideo:
		err = s.QuickVideo(ctx, jobID)
	default:
		return fmt.Errorf("unknown step: %s", step)
	}

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded) {
		s.markTimeout(jobID, string(step))
		return nil
	}
	return err
}

// FetchTranscript は字幕を取得して transcript_ready へ進めます。
// 取得の再試行はアダプター側で行われ、ここでの失敗はジョブの error です。
func (s *Service) FetchTranscript(ctx context.Context, jobID string) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusProcessing || record.Mode != jobs.ModeFull {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	cues, err := s.providers.Transcript.Fetch(ctx, record.VideoRef, record.Language)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.markError(record, fmt.Sprintf("transcript fetch failed: %v", err))
		return nil
	}

	record.Transcript = cues
	record.Status = jobs.StatusTranscriptReady
	record.Progress = "Transcript ready"
	s.putIfActive(record)
	return nil
}

// ProcessSection はトランスクリプトの1区間から設問を1問生成します。
// 区間にキューがなければ何も生成せずカーソルだけ進めます。
func (s *Service) ProcessSection(ctx context.Context, jobID string, index int) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusProcessingSection {
		return nil
	}
	if index != record.CurrentSection || index >= record.TotalSections {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	windowLen := transcriptSpan(record.Transcript) / float64(record.TotalSections)
	windowStart := float64(index) * windowLen
	windowEnd := windowStart + windowLen

	var parts []string
	for _, cue := range record.Transcript {
		if cue.Start >= windowStart && cue.Start < windowEnd {
			parts = append(parts, cue.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))

	if text != "" {
		question, err := s.providers.Questions.FromTranscript(ctx, record.Title, text)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// 1区間の失敗でジョブ全体は落とさない。
			s.logf("section %d question generation failed job=%s: %v", index, jobID, err)
		} else {
			question.Timestamp = windowStart + windowLen/2 + s.opts.SectionOffset
			record.SectionQuestions = append(record.SectionQuestions, question)
		}
	}

	record.CurrentSection = index + 1
	record.Progress = fmt.Sprintf("Generating question %d of %d", record.CurrentSection, record.TotalSections)
	s.putIfActive(record)
	return nil
}

// ProcessKeyframeBatch は1バッチ分のタイムスタンプについてキーフレームを取得し、
// 物体検出の結果からクリック式の設問を生成します。検出なしはスキップです。
func (s *Service) ProcessKeyframeBatch(ctx context.Context, jobID string, index int) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusProcessingKeyframes {
		return nil
	}
	if index != record.CurrentKeyframeBatch || index >= record.TotalKeyframeBatches {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	batchStart := index * batchSizeOf(record)
	batchEnd := batchStart + batchSizeOf(record)
	if batchEnd > len(record.AllTimestamps) {
		batchEnd = len(record.AllTimestamps)
	}

	duration := transcriptSpan(record.Transcript)
	for _, ts := range record.AllTimestamps[batchStart:batchEnd] {
		question, err := s.keyframeQuestion(ctx, record, ts, duration)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logf("keyframe %.1fs skipped job=%s: %v", ts, jobID, err)
			continue
		}
		if question != nil {
			record.KeyframeQuestions = append(record.KeyframeQuestions, *question)
		}
	}

	record.CurrentKeyframeBatch = index + 1
	record.Progress = fmt.Sprintf("Analyzing keyframes, batch %d of %d", record.CurrentKeyframeBatch, record.TotalKeyframeBatches)
	s.putIfActive(record)
	return nil
}

// keyframeQuestion は1タイムスタンプ分の検出と設問生成を行います。
// 検出ゼロは (nil, nil) でスキップを表します。
func (s *Service) keyframeQuestion(ctx context.Context, record *jobs.Record, ts, duration float64) (*jobs.Question, error) {
	image, err := s.providers.Thumbnail.Image(ctx, record.VideoRef, ts, duration)
	if err != nil {
		return nil, err
	}

	detections, err := s.providers.Detector.Detect(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(detections) == 0 {
		return nil, nil
	}

	// 最大面積の検出を主役に選び、同じラベルの検出だけを対象にします。
	primary := detections[0]
	for _, det := range detections[1:] {
		if det.Area() > primary.Area() {
			primary = det
		}
	}
	var targets []jobs.Detection
	for _, det := range detections {
		if det.Label == primary.Label {
			targets = append(targets, det)
		}
	}

	return &jobs.Question{
		Kind:      jobs.KindClickObject,
		Text:      fmt.Sprintf("Can you click the %s?", primary.Label),
		Answer:    primary.Label,
		Timestamp: ts,
		Objects:   targets,
	}, nil
}

// CombineResults は両方の設問列を統合し、ジョブを complete にします。
// 統合結果は section_questions / keyframe_questions から常に同じ順序で
// 再計算でき、何度呼んでも同じ結果になります。
func (s *Service) CombineResults(ctx context.Context, jobID string) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusCombiningResults {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	record.Questions = BuildFinalQuestions(record)
	record.Status = jobs.StatusComplete
	record.Progress = "Processing complete"
	record.CompletedAt = time.Now().UTC().Unix()
	if !s.putIfActive(record) {
		return nil
	}
	s.releaseToken(jobID)

	if record.WebhookURL != "" && s.providers.Webhook != nil {
		go s.providers.Webhook.Notify(record.WebhookURL, record)
	}
	return nil
}

// BuildFinalQuestions は最終結果を再計算します。timestamp 昇順（同値は
// セクション由来が先）で統合し、num_questions 件に切り詰めます。
func BuildFinalQuestions(record *jobs.Record) []jobs.Question {
	merged := make([]jobs.Question, 0, len(record.SectionQuestions)+len(record.KeyframeQuestions))
	merged = append(merged, record.SectionQuestions...)
	merged = append(merged, record.KeyframeQuestions...)

	// 安定ソートで再計算の冪等性を保ちます。
	for i := 1; i < len(merged); i++ {
		for j := i; j > 0 && merged[j].Timestamp < merged[j-1].Timestamp; j-- {
			merged[j], merged[j-1] = merged[j-1], merged[j]
		}
	}

	if record.NumQuestions > 0 && len(merged) > record.NumQuestions {
		merged = merged[:record.NumQuestions]
	}
	return merged
}

// QuickImage は画像1枚の単発解析です。カーソルなしで検出→生成→完了まで進みます。
func (s *Service) QuickImage(ctx context.Context, jobID string) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusProcessing || record.Mode != jobs.ModeQuick {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	image, err := base64.StdEncoding.DecodeString(record.ImageBase64)
	if err != nil {
		s.markError(record, "image payload is not valid base64")
		return nil
	}

	record.Progress = "Detecting objects"
	if !s.putIfActive(record) {
		return nil
	}

	detections, err := s.providers.Detector.Detect(ctx, image)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.markError(record, fmt.Sprintf("object detection failed: %v", err))
		return nil
	}

	labels := make([]string, 0, len(detections))
	for _, det := range detections {
		labels = append(labels, det.Label)
	}

	question, err := s.providers.Questions.FromLabels(ctx, labels)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.markError(record, fmt.Sprintf("question generation failed: %v", err))
		return nil
	}

	s.finishQuick(record, question)
	return nil
}

// QuickVideo は短い動画の単発解析です。字幕全文から設問を1問生成します。
func (s *Service) QuickVideo(ctx context.Context, jobID string) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil {
		return err
	}
	if record.Status != jobs.StatusProcessing || record.Mode != jobs.ModeQuick {
		return nil
	}
	if s.isCancelled(record) {
		return nil
	}

	record.Progress = "Fetching transcript"
	if !s.putIfActive(record) {
		return nil
	}

	cues, err := s.providers.Transcript.Fetch(ctx, record.VideoRef, record.Language)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.markError(record, fmt.Sprintf("transcript fetch failed: %v", err))
		return nil
	}

	parts := make([]string, 0, len(cues))
	for _, cue := range cues {
		parts = append(parts, cue.Text)
	}

	question, err := s.providers.Questions.FromTranscript(ctx, record.Title, strings.Join(parts, " "))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.markError(record, fmt.Sprintf("question generation failed: %v", err))
		return nil
	}

	record.Transcript = cues
	s.finishQuick(record, question)
	return nil
}

func (s *Service) finishQuick(record *jobs.Record, question jobs.Question) {
	record.Questions = []jobs.Question{question}
	record.Status = jobs.StatusComplete
	record.Progress = "Processing complete"
	record.CompletedAt = time.Now().UTC().Unix()
	if !s.putIfActive(record) {
		return
	}
	s.releaseToken(record.JobID)

	if record.WebhookURL != "" && s.providers.Webhook != nil {
		go s.providers.Webhook.Notify(record.WebhookURL, record)
	}
}

// markError はジョブを error 終端へ落とします。先にキャンセルが確定して
// いた場合は cancelled を優先し、何も上書きしません。
func (s *Service) markError(record *jobs.Record, message string) {
	record.Status = jobs.StatusError
	record.Error = message
	record.Progress = "Processing failed"
	if !s.putIfActive(record) {
		return
	}
	s.releaseToken(record.JobID)
	s.logf("job failed job=%s: %s", record.JobID, message)
}

// markTimeout はステップの期限超過をジョブの timeout として記録します。
// error とは区別され、クライアントは後で再試行できます。
func (s *Service) markTimeout(jobID, step string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	record, err := s.store.Get(ctx, jobID)
	if err != nil || record == nil || record.Status.IsTerminal() {
		return
	}
	if s.isCancelled(record) {
		return
	}
	record.Status = jobs.StatusTimeout
	record.Error = fmt.Sprintf("step %s exceeded its time limit", step)
	record.Progress = "Processing timed out"
	s.putDetached(record)
	s.releaseToken(jobID)
	s.logf("job timed out job=%s step=%s", jobID, step)
}

// transcriptSpan はトランスクリプトが覆う時間幅（秒）を返します。
func transcriptSpan(cues []jobs.Cue) float64 {
	span := 0.0
	for _, cue := range cues {
		if end := cue.Start + cue.Duration; end > span {
			span = end
		}
	}
	return span
}

func batchSizeOf(record *jobs.Record) int {
	if record.TotalKeyframeBatches <= 0 {
		return 1
	}
	size := (len(record.AllTimestamps) + record.TotalKeyframeBatches - 1) / record.TotalKeyframeBatches
	if size < 1 {
		size = 1
	}
	return size
}
