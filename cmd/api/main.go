// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/piggyback-video/internal/config"
	"github.com/yourusername/piggyback-video/internal/pipeline"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// パイプラインとワーカーの配線
	service, manager, err := setupPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to set up pipeline: %v", err)
	}
	manager.StartWorkers()

	// メモリフォールバック側の期限切れレコードを定期的に回収
	go runJanitor(service, time.Duration(cfg.JobExpireMinutes)*time.Minute)

	// ルーティングの設定
	router.GET("/health", handleHealth)
	pipeline.RegisterRoutes(router, service, pipeline.HandlerOptions{
		MaxImageSizeBytes: cfg.MaxImageSizeBytes,
	})

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "piggyback-video-api",
		"version": "0.1.0",
	})
}

// runJanitor は一定間隔で状態ストアの掃除を行います。
func runJanitor(service *pipeline.Service, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if removed := service.Store().Sweep(); removed > 0 {
			log.Printf("janitor removed %d expired job records", removed)
		}
	}
}
