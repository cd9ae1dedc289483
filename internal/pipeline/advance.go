package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// Advance は現在のレコードから次に実行すべきステップを1つ決めて投入します。
// 明示的な advance エンドポイントと、結果ポーリングの副作用の両方から呼ばれる
// ため、クライアントが普通にポーリングするだけでパイプラインが前進します。
// 投入したステップ名（終端またはやることがなければ空文字）と、判断に使った
// レコードを返します。
func (s *Service) Advance(ctx context.Context, jobID string) (Step, *jobs.Record, error) {
	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return "", nil, err
	}
	if record == nil {
		return "", nil, &Error{Code: "JOB_NOT_FOUND", Message: "指定されたジョブは存在しません。"}
	}

	switch {
	case record.Status.IsTerminal():
		return "", record, nil

	case record.Status == jobs.StatusProcessing && record.Mode == jobs.ModeQuick:
		// quickはstartで投入済みだが、プロセス再起動で失われた場合に備えて
		// ポーリングからも再投入できるようにしておく。
		step := StepQuickVideo
		if record.ImageBase64 != "" {
			step = StepQuickImage
		}
		return step, record, s.schedule(ctx, jobID, step, 0)

	case record.Status == jobs.StatusProcessing:
		return StepFetchTranscript, record, s.schedule(ctx, jobID, StepFetchTranscript, 0)

	case record.Status == jobs.StatusTranscriptReady:
		// セクション巡回の初期化。カーソルを置いてから先頭セクションを投入する。
		record.TotalSections = record.NumQuestions
		record.CurrentSection = 0
		record.Status = jobs.StatusProcessingSection
		record.Progress = fmt.Sprintf("Generating question 0 of %d", record.TotalSections)
		if err := s.store.Put(ctx, record); err != nil {
			return "", record, err
		}
		return StepProcessSection, record, s.schedule(ctx, jobID, StepProcessSection, 0)

	case record.Status == jobs.StatusProcessingSection && record.CurrentSection < record.TotalSections:
		return StepProcessSection, record, s.schedule(ctx, jobID, StepProcessSection, record.CurrentSection)

	case record.Status == jobs.StatusProcessingSection:
		// セクションを使い切った。キーフレーム計画を立ててバッチ巡回へ移る。
		timestamps := s.planKeyframes(ctx, record)
		if len(timestamps) == 0 {
			return s.scheduleCombine(ctx, record)
		}
		record.AllTimestamps = timestamps
		record.TotalKeyframeBatches = (len(timestamps) + s.opts.KeyframeBatchSize - 1) / s.opts.KeyframeBatchSize
		record.CurrentKeyframeBatch = 0
		record.Status = jobs.StatusProcessingKeyframes
		record.Progress = fmt.Sprintf("Analyzing keyframes, batch 0 of %d", record.TotalKeyframeBatches)
		if err := s.store.Put(ctx, record); err != nil {
			return "", record, err
		}
		return StepProcessKeyframe, record, s.schedule(ctx, jobID, StepProcessKeyframe, 0)

	case record.Status == jobs.StatusProcessingKeyframes && record.CurrentKeyframeBatch < record.TotalKeyframeBatches:
		return StepProcessKeyframe, record, s.schedule(ctx, jobID, StepProcessKeyframe, record.CurrentKeyframeBatch)

	case record.Status == jobs.StatusProcessingKeyframes:
		return s.scheduleCombine(ctx, record)

	case record.Status == jobs.StatusCombiningResults:
		// 投入済みのcombineが失われた場合の再投入。
		return StepCombineResults, record, s.schedule(ctx, jobID, StepCombineResults, 0)
	}

	return "", record, nil
}

func (s *Service) scheduleCombine(ctx context.Context, record *jobs.Record) (Step, *jobs.Record, error) {
	record.Status = jobs.StatusCombiningResults
	record.Progress = "Combining results"
	if err := s.store.Put(ctx, record); err != nil {
		return "", record, err
	}
	return StepCombineResults, record, s.schedule(ctx, record.JobID, StepCombineResults, 0)
}

// planKeyframes はサンプリングするタイムスタンプ列を計算します。
// イントロを避けるため冒頭 IntroSkip 秒を飛ばし、keyframe_interval 間隔で
// 動画の終わりまで、最大 MaxKeyframes 個まで並べます。
func (s *Service) planKeyframes(ctx context.Context, record *jobs.Record) []float64 {
	duration := s.opts.DefaultDuration
	if s.providers.Duration != nil {
		if d, err := s.providers.Duration.Duration(ctx, record.VideoRef); err == nil && d > 0 {
			duration = d
		} else if err != nil {
			s.logf("duration lookup failed video=%s, using default %.0fs: %v", record.VideoRef, duration, err)
		}
	}

	interval := record.KeyframeInterval
	if interval <= 0 {
		interval = 30
	}

	var timestamps []float64
	for ts := s.opts.IntroSkip; ts <= duration && len(timestamps) < s.opts.MaxKeyframes; ts += interval {
		timestamps = append(timestamps, ts)
	}
	return timestamps
}

func (s *Service) schedule(ctx context.Context, jobID string, step Step, index int) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler is not configured")
	}
	return s.scheduler.Schedule(ctx, jobID, step, index)
}

// Cancel はジョブを cancelled 終端へ強制します。非終端の任意の状態から有効で、
// ローカルのキャンセルトークンを閉じるため、実行中のステップは次の境界で
// 中断します。終端を書き込んだあとはトークンを破棄するので、同じIDでの
// 再スタートを妨げません。冪等です。
func (s *Service) Cancel(ctx context.Context, jobID string) (*jobs.Record, error) {
	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &Error{Code: "JOB_NOT_FOUND", Message: "指定されたジョブは存在しません。"}
	}

	s.closeToken(jobID)

	if record.Status.IsTerminal() {
		s.releaseToken(jobID)
		return record, nil
	}

	record.Status = jobs.StatusCancelled
	record.Progress = "Processing cancelled"
	record.CancelledAt = time.Now().UTC().Unix()
	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}
	s.releaseToken(jobID)
	return record, nil
}
