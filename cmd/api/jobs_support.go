package main

import (
	"context"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/piggyback-video/internal/config"
	"github.com/yourusername/piggyback-video/internal/jobs"
	"github.com/yourusername/piggyback-video/internal/pipeline"
	"github.com/yourusername/piggyback-video/internal/providers"
)

// stepScheduler は pipeline.Scheduler を jobs.Manager で実装します。
type stepScheduler struct {
	manager *jobs.Manager
}

func (s *stepScheduler) Schedule(ctx context.Context, jobID string, step pipeline.Step, index int) error {
	return s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID: jobID,
		Step:  string(step),
		Index: index,
	})
}

func setupPipeline(cfg *config.Config) (*pipeline.Service, *jobs.Manager, error) {
	logger := log.Default()

	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}
	redisClient := redis.NewClient(opt)

	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute, logger)

	// すべてのアダプターはステップと同じ上限タイムアウトを共有します。
	stepTimeout := time.Duration(cfg.StepTimeoutSecs) * time.Second
	httpClient := providers.NewHTTPClient(stepTimeout, "")
	proxyClient := providers.NewHTTPClient(stepTimeout, cfg.TranscriptProxyURL)

	service, err := pipeline.NewService(store, pipeline.Providers{
		Transcript: providers.NewTranscriptClient(proxyClient, cfg.DefaultTranscriptLng, logger),
		Duration:   providers.NewDurationClient(httpClient, cfg.YouTubeAPIKey),
		Thumbnail:  providers.NewThumbnailClient(httpClient, logger),
		Detector:   providers.NewDetectorClient(httpClient, cfg.DetectorURL),
		Questions:  providers.NewQuestionClient(httpClient, cfg.OpenAIAPIKey, cfg.OpenAIModel, logger),
		Webhook:    providers.NewWebhookClient(httpClient, logger),
	}, pipeline.Options{
		StepTimeout:       stepTimeout,
		MaxKeyframes:      cfg.MaxKeyframes,
		KeyframeBatchSize: cfg.KeyframeBatchSize,
		SectionOffset:     cfg.SectionOffsetSecs,
		DefaultDuration:   cfg.DefaultDurationSecs,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	manager, err := jobs.NewManager(cfg, service, logger)
	if err != nil {
		return nil, nil, err
	}
	service.SetScheduler(&stepScheduler{manager: manager})

	return service, manager, nil
}
