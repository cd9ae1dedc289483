// Package pipeline は動画解析ジョブのステップ関数とオーケストレーターを提供します。
// 1ジョブは状態ストア上の1レコードで追跡され、各ステップは「現在のレコードを
// 読む → 上限付きの作業を1単位行う → レコード全体を書き戻す」を繰り返します。
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// Step はパイプラインのステップ種別を表します。
type Step string

const (
	StepFetchTranscript Step = "fetch_transcript"
	StepProcessSection  Step = "process_section"
	StepProcessKeyframe Step = "process_keyframes"
	StepCombineResults  Step = "combine_results"
	StepQuickImage      Step = "quick_image"
	StepQuickVideo      Step = "quick_video"
)

// Error はAPIへ返すコード付きエラーです。
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TranscriptProvider は字幕キューの取得を提供します。
type TranscriptProvider interface {
	Fetch(ctx context.Context, videoID, language string) ([]jobs.Cue, error)
}

// DurationProvider は動画長の取得を提供します。
type DurationProvider interface {
	Duration(ctx context.Context, videoID string) (float64, error)
}

// ThumbnailProvider は指定タイムスタンプ付近のキーフレーム画像の取得を提供します。
type ThumbnailProvider interface {
	Image(ctx context.Context, videoID string, timestamp, duration float64) ([]byte, error)
}

// Detector は画像内の物体検出を提供します。
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]jobs.Detection, error)
}

// QuestionGenerator は設問生成を提供します。
type QuestionGenerator interface {
	FromTranscript(ctx context.Context, title, text string) (jobs.Question, error)
	FromLabels(ctx context.Context, labels []string) (jobs.Question, error)
}

// Notifier は完了Webhook通知を提供します。
type Notifier interface {
	Notify(url string, payload any)
}

// Scheduler はステップをバックグラウンド実行へ投入するためのインターフェースです。
type Scheduler interface {
	Schedule(ctx context.Context, jobID string, step Step, index int) error
}

// Providers は Service が依存する外部アダプター一式です。
type Providers struct {
	Transcript TranscriptProvider
	Duration   DurationProvider
	Thumbnail  ThumbnailProvider
	Detector   Detector
	Questions  QuestionGenerator
	Webhook    Notifier
}

// Options はパイプラインの調整値です。
type Options struct {
	StepTimeout       time.Duration // 1ステップの上限実行時間
	MaxKeyframes      int           // サンプリングするキーフレームの上限
	KeyframeBatchSize int           // 1バッチあたりのキーフレーム数
	SectionOffset     float64       // 設問タイムスタンプへの固定オフセット（秒）
	DefaultDuration   float64       // 動画長が不明な場合の既定値（秒）
	IntroSkip         float64       // キーフレーム計画で冒頭から除外する秒数
}

// Service はステップ関数とオーケストレーターの実装本体です。
type Service struct {
	store     *jobs.Store
	providers Providers
	scheduler Scheduler
	opts      Options
	logger    *log.Logger

	// ジョブIDごとのキャンセルトークン。ステップ境界で確認されます。
	cancels  sync.Map // map[string]chan struct{}
	cancelMu sync.Mutex
}

// NewService は Service を作成します。
func NewService(store *jobs.Store, providers Providers, opts Options, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 25 * time.Second
	}
	if opts.MaxKeyframes <= 0 {
		opts.MaxKeyframes = 8
	}
	if opts.KeyframeBatchSize <= 0 {
		opts.KeyframeBatchSize = 3
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 300
	}
	if opts.IntroSkip <= 0 {
		opts.IntroSkip = 20
	}
	return &Service{
		store:     store,
		providers: providers,
		opts:      opts,
		logger:    logger,
	}, nil
}

// SetScheduler はステップ投入先を設定します（Manager との相互参照を断つため後差しです）。
func (s *Service) SetScheduler(scheduler Scheduler) {
	s.scheduler = scheduler
}

// Store は状態ストアを返します。
func (s *Service) Store() *jobs.Store {
	return s.store
}

// cancelToken は jobID のキャンセルトークンを返します（なければ作成）。
func (s *Service) cancelToken(jobID string) chan struct{} {
	actual, _ := s.cancels.LoadOrStore(jobID, make(chan struct{}))
	return actual.(chan struct{})
}

// closeToken は jobID のキャンセルトークンを閉じます。ミューテックスで
// 二重closeを防ぐため、並行した Cancel から呼んでも安全です。
func (s *Service) closeToken(jobID string) {
	token := s.cancelToken(jobID)
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	select {
	case <-token:
	default:
		close(token)
	}
}

// isCancelled はステップ境界でのキャンセル確認です。レコード上の状態と
// ローカルトークンの両方を見ます。
func (s *Service) isCancelled(record *jobs.Record) bool {
	if record.Status == jobs.StatusCancelled {
		return true
	}
	if token, ok := s.cancels.Load(record.JobID); ok {
		select {
		case <-token.(chan struct{}):
			return true
		default:
		}
	}
	return false
}

// releaseToken は終端状態に達したジョブのトークンを破棄します。
func (s *Service) releaseToken(jobID string) {
	s.cancels.Delete(jobID)
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// putDetached はステップ自身のコンテキストが死んでいても状態を書き戻せるよう、
// 切り離したコンテキストで Put します。
func (s *Service) putDetached(record *jobs.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Put(ctx, record); err != nil {
		s.logf("failed to persist record job=%s: %v", record.JobID, err)
	}
}

// putIfActive は書き戻しの直前にジョブがまだ進行中かを再確認してから Put します。
// アダプター呼び出し中に cancel などでジョブが終端化していた場合、手元の古い
// レコードで終端状態を上書きしないよう書き込みを捨て、false を返します。
func (s *Service) putIfActive(record *jobs.Record) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fresh, err := s.store.Get(ctx, record.JobID)
	if err == nil && fresh != nil && fresh.Status.IsTerminal() {
		return false
	}
	if s.isCancelled(record) {
		return false
	}
	if err := s.store.Put(ctx, record); err != nil {
		s.logf("failed to persist record job=%s: %v", record.JobID, err)
	}
	return true
}
