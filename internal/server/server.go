package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/credora/internal/config"
	"github.com/smallbiznis/credora/internal/identity"
	ledgerdomain "github.com/smallbiznis/credora/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/credora/internal/payment/domain"
	rewarddomain "github.com/smallbiznis/credora/internal/reward/domain"
	subscriptiondomain "github.com/smallbiznis/credora/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	identitySvc     identity.Service
	ledgerSvc       ledgerdomain.Service
	rewardSvc       rewarddomain.Service
	paymentSvc      paymentdomain.Service
	subscriptionSvc subscriptiondomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	IdentitySvc     identity.Service
	LedgerSvc       ledgerdomain.Service
	RewardSvc       rewarddomain.Service
	PaymentSvc      paymentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
}

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("server"),
		identitySvc:     p.IdentitySvc,
		ledgerSvc:       p.LedgerSvc,
		rewardSvc:       p.RewardSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/users", s.registerUser)
	v1.GET("/users/:id", s.getUser)
	v1.GET("/users/:id/credits", s.getBalance)
	v1.GET("/users/:id/credits/transactions", s.listTransactions)
	v1.POST("/users/:id/credits/add", s.addCredits)
	v1.POST("/users/:id/credits/use", s.useCredits)
	v1.POST("/users/:id/credits/free", s.giveFreeCredits)

	v1.POST("/rewards/claim", s.claimReward)

	v1.POST("/payments", s.createPayment)
	v1.GET("/payments/:id", s.getPayment)
	v1.POST("/webhooks/payments/:processor", s.handlePaymentWebhook)

	v1.POST("/subscriptions", s.createSubscription)
	v1.GET("/subscriptions/:id", s.getSubscription)
	v1.POST("/subscriptions/:id/cancel", s.cancelSubscription)

	v1.POST("/internal/billing/run", s.runBillingCycle)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)
