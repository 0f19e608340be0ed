package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"melodia/internal/generation"
	"melodia/internal/metrics"
	"melodia/internal/model"
	"melodia/internal/payload"
	"melodia/internal/payment"
)

type PaymentService interface {
	CreateTransaction(ctx context.Context, userID string, amount int64, packageName string) (*payment.Created, error)
	CheckStatus(ctx context.Context, userID, orderID string) (*payment.Outcome, *payment.TransactionStatus, error)
	HandleNotification(ctx context.Context, n payload.Notification) (*payment.Outcome, error)
}

type PaymentLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.PaymentRecord, error)
}

type GenerationService interface {
	Generate(ctx context.Context, userID string, req generation.Request) (generation.JobHandle, error)
	Extend(ctx context.Context, userID string, req generation.ExtendRequest) (generation.JobHandle, error)
	Status(ctx context.Context, handle generation.JobHandle) (*generation.JobStatus, error)
	Cancel(userID string) bool
	Active(userID string) (generation.JobHandle, bool)
}

// ProviderTools are the generation provider calls passed through unchanged.
type ProviderTools interface {
	GenerateLyrics(ctx context.Context, prompt string) (json.RawMessage, error)
	ConvertWav(ctx context.Context, audioID string) (json.RawMessage, error)
}

type AccountStore interface {
	Get(ctx context.Context, userID string) (*model.UserAccount, error)
}

type TrackLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.TrackRecord, error)
}

type Handlers struct {
	Payments   PaymentService
	History    PaymentLister
	Generation GenerationService
	Tools      ProviderTools
	Accounts   AccountStore
	Tracks     TrackLister
	JWTSecret  string
	Origins    []string
	Logger     *slog.Logger
}

func NewRouter(h Handlers) *gin.Engine {
	origins := h.Origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/liveness", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	// the provider authenticates with the notification signature
	api.POST("/payment/webhook", h.paymentWebhook)

	user := api.Group("", JWTAuth(h.JWTSecret, h.Logger))
	user.POST("/payment/create-transaction", h.createTransaction)
	user.POST("/payment/check-status", h.checkStatus)
	user.GET("/payments", h.listPayments)
	user.GET("/me", h.me)

	user.POST("/suno/generate", h.generate)
	user.GET("/suno/task/:jobId", h.taskStatus)
	user.POST("/suno/cancel", h.cancel)
	user.POST("/suno/generate-lyrics", h.generateLyrics)
	user.POST("/suno/extend", h.extend)
	user.POST("/suno/wav", h.convertWav)
	user.GET("/tracks", h.listTracks)

	return r
}
