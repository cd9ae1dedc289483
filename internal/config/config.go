// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ジョブ/キュー設定
	QueueRedisURL     string // Asynq・状態ストア用Redis接続URL
	JobExpireMinutes  int    // ジョブレコードのTTL（分）
	WorkerConcurrency int    // ステップ実行ワーカーの並列数
	StepTimeoutSecs   int    // 1ステップ（外部呼び出し込み）の上限秒数

	// パイプライン設定
	MaxKeyframes         int     // サンプリングするキーフレームの最大数
	KeyframeBatchSize    int     // 1バッチで処理するキーフレーム数
	SectionOffsetSecs    float64 // 設問タイムスタンプに加える固定オフセット（秒）
	DefaultDurationSecs  float64 // 動画長が取得できない場合の既定値（秒）
	MaxImageSizeBytes    int64   // quickモードで受け付ける画像の最大サイズ
	TranscriptProxyURL   string  // トランスクリプト取得に使うプロキシ（任意）
	DefaultTranscriptLng string  // トランスクリプトの既定言語

	// 外部コラボレーター設定
	OpenAIAPIKey  string // 設問生成用OpenAI APIキー
	OpenAIModel   string // 設問生成に使うモデル名
	YouTubeAPIKey string // 動画長取得用YouTube Data APIキー
	DetectorURL   string // 物体検出サイドカーのURL
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes:  getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
		StepTimeoutSecs:   getEnvAsInt("STEP_TIMEOUT_SECONDS", 25),

		MaxKeyframes:         getEnvAsInt("MAX_KEYFRAMES", 8),
		KeyframeBatchSize:    getEnvAsInt("KEYFRAME_BATCH_SIZE", 3),
		SectionOffsetSecs:    getEnvAsFloat("SECTION_TIMESTAMP_OFFSET", 2.0),
		DefaultDurationSecs:  getEnvAsFloat("DEFAULT_DURATION_SECONDS", 300),
		MaxImageSizeBytes:    getEnvAsInt64("MAX_IMAGE_SIZE", 10*1024*1024), // 10MB
		TranscriptProxyURL:   getEnv("TRANSCRIPT_PROXY_URL", ""),
		DefaultTranscriptLng: getEnv("TRANSCRIPT_LANGUAGE", "en"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		YouTubeAPIKey: getEnv("YOUTUBE_API_KEY", ""),
		DetectorURL:   getEnv("DETECTOR_URL", "http://127.0.0.1:8001"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
// ローカル開発ではAPIキーは任意、本番環境では厳格にチェックします。
func (c *Config) Validate() error {
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if c.StepTimeoutSecs <= 0 {
		return fmt.Errorf("STEP_TIMEOUT_SECONDS must be positive")
	}
	if c.KeyframeBatchSize <= 0 {
		return fmt.Errorf("KEYFRAME_BATCH_SIZE must be positive")
	}

	if c.GinMode == "release" {
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in release mode")
		}
		if c.DetectorURL == "" {
			return fmt.Errorf("DETECTOR_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
