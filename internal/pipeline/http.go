package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/piggyback-video/internal/jobs"
)

// VideoService はライフサイクルAPIが必要とする操作です。
type VideoService interface {
	StartVideo(ctx context.Context, jobID string, req StartRequest) (*jobs.Record, bool, error)
	StartQuickImage(ctx context.Context, jobID, imageBase64 string) (*jobs.Record, bool, error)
	Advance(ctx context.Context, jobID string) (Step, *jobs.Record, error)
	Results(ctx context.Context, jobID string) (*ResultsView, error)
	Cancel(ctx context.Context, jobID string) (*jobs.Record, error)
}

// HandlerOptions はハンドラーの調整値です。
type HandlerOptions struct {
	MaxImageSizeBytes int64
}

// RegisterRoutes はライフサイクルAPIのルートを登録します。
func RegisterRoutes(router gin.IRouter, svc VideoService, opts HandlerOptions) {
	v1 := router.Group("/api/v1/video")
	{
		v1.POST("/process/:id", ProcessHandler(svc))
		v1.POST("/quick", QuickImageHandler(svc, opts))
		v1.POST("/quick/:id", QuickImageHandler(svc, opts))
		v1.GET("/polling/:id", PollingHandler(svc))
		v1.POST("/advance/:id", AdvanceHandler(svc))
		v1.POST("/cancel/:id", CancelHandler(svc))
	}
}

// ProcessHandler は POST /api/v1/video/process/:id のハンドラーを返します。
func ProcessHandler(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		var req StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "リクエストボディをJSONとして解釈できません。",
			})
			return
		}
		if strings.TrimSpace(req.YouTubeURL) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "youtube_url は必須です。",
			})
			return
		}

		record, already, err := svc.StartVideo(c.Request.Context(), jobID, req)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if already {
			c.JSON(http.StatusOK, gin.H{
				"job_id": record.JobID,
				"status": "already_processing",
			})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": record.JobID,
			"status": record.Status,
		})
	}
}

type quickImageRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// QuickImageHandler は POST /api/v1/video/quick[/:id] のハンドラーを返します。
// IDが省略された場合は生成します。
func QuickImageHandler(svc VideoService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			jobID = uuid.NewString()
		}

		var req quickImageRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ImageBase64 == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "image_base64 は必須です。",
			})
			return
		}

		image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "image_base64 をデコードできません。",
			})
			return
		}
		if opts.MaxImageSizeBytes > 0 && int64(len(image)) > opts.MaxImageSizeBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": "画像サイズが上限を超えています。",
			})
			return
		}
		if mtype := mimetype.Detect(image); !strings.HasPrefix(mtype.String(), "image/") {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "画像ファイルを送信してください。",
			})
			return
		}

		record, already, err := svc.StartQuickImage(c.Request.Context(), jobID, req.ImageBase64)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if already {
			c.JSON(http.StatusOK, gin.H{
				"job_id": record.JobID,
				"status": "already_processing",
			})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": record.JobID,
			"status": record.Status,
		})
	}
}

// PollingHandler は GET /api/v1/video/polling/:id のハンドラーを返します。
// 状態の取得と同時に、副作用として次のステップを投入します。
func PollingHandler(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		view, err := svc.Results(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// AdvanceHandler は POST /api/v1/video/advance/:id のハンドラーを返します。
func AdvanceHandler(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		step, record, err := svc.Advance(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id":    record.JobID,
			"status":    record.Status,
			"scheduled": step,
		})
	}
}

// CancelHandler は POST /api/v1/video/cancel/:id のハンドラーを返します。冪等です。
func CancelHandler(svc VideoService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := svc.Cancel(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id":       record.JobID,
			"status":       record.Status,
			"cancelled_at": record.CancelledAt,
		})
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		status := http.StatusInternalServerError
		switch apiErr.Code {
		case "INVALID_INPUT":
			status = http.StatusBadRequest
		case "JOB_NOT_FOUND":
			status = http.StatusNotFound
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "内部エラーが発生しました。",
	})
}
