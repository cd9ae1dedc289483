package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/yourusername/piggyback-video/internal/config"
)

const (
	taskTypeStep = "video:step"
	queueVideo   = "video"
)

// StepRunner はステップ1つを実行できるサービスが実装します。
type StepRunner interface {
	RunStep(ctx context.Context, jobID string, step string, index int) error
}

// Manager はステップタスクの投入と実行を担います。通常は Asynq のワーカー
// プールで実行しますが、Redis へ投入できない場合はプロセス内の有限
// ゴルーチンへフォールバックします（ポーリング駆動の前進は止めない）。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner StepRunner
	logger *log.Logger

	// ローカルフォールバック用セマフォ。
	local chan struct{}
}

// TaskPayload はステップタスクのペイロードです。
type TaskPayload struct {
	JobID string `json:"job_id"`
	Step  string `json:"step"`
	Index int    `json:"index"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner StepRunner, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				queueVideo: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		runner: runner,
		logger: logger,
		local:  make(chan struct{}, cfg.WorkerConcurrency),
	}
	mux.HandleFunc(taskTypeStep, manager.handleStepTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue はステップタスクをキューに投入します。ステップの失敗はジョブの
// 状態として記録されるため、Asynq による再試行は行いません。
// Redis へ投入できない場合はローカル実行へ切り替えます。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) error {
	if payload == nil {
		return fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return fmt.Errorf("payload.JobID is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeStep, body, asynq.Queue(queueVideo))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		if m.logger != nil {
			m.logger.Printf("enqueue failed job=%s step=%s, running locally: %v", payload.JobID, payload.Step, err)
		}
		m.runLocally(*payload)
	}
	return nil
}

func (m *Manager) handleStepTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing job_id in payload")
	}
	return m.runner.RunStep(ctx, payload.JobID, payload.Step, payload.Index)
}

// runLocally はセマフォで並列数を抑えつつ、ステップをこのプロセスで実行します。
func (m *Manager) runLocally(payload TaskPayload) {
	go func() {
		m.local <- struct{}{}
		defer func() { <-m.local }()

		if err := m.runner.RunStep(context.Background(), payload.JobID, payload.Step, payload.Index); err != nil && m.logger != nil {
			m.logger.Printf("local step failed job=%s step=%s: %v", payload.JobID, payload.Step, err)
		}
	}()
}
