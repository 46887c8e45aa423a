// Package api exposes the pipeline over HTTP: message ingestion for bridge
// devices, the staff reconciliation workflow, and operational read views.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ibimina/saccopay/internal/ledger"
	"github.com/ibimina/saccopay/internal/payments"
	"github.com/ibimina/saccopay/internal/ratelimit"
	"github.com/ibimina/saccopay/internal/storage"
)

// Server wires the HTTP surface to the payment workflow.
type Server struct {
	payments *payments.Service
	ledger   *ledger.Service
	store    storage.Store
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
	router   *gin.Engine
}

// Config collects the server dependencies. Limiter is optional; without it
// ingestion is not throttled.
type Config struct {
	Payments *payments.Service
	Ledger   *ledger.Service
	Store    storage.Store
	Limiter  *ratelimit.Limiter
	Logger   zerolog.Logger
}

func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		payments: cfg.Payments,
		ledger:   cfg.Ledger,
		store:    cfg.Store,
		limiter:  cfg.Limiter,
		log:      cfg.Logger,
		router:   router,
	}

	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/messages", s.handleIngestMessage)
		api.GET("/payments/:id", s.handleGetPayment)
		api.POST("/payments/:id/assign", s.handleAssign)
		api.POST("/payments/:id/approve", s.handleApprove)
		api.POST("/payments/:id/reject", s.handleReject)
		api.POST("/payments/:id/settle", s.handleSettle)
		api.GET("/exceptions", s.handleListExceptions)
		api.GET("/balances/:ownerType/:ownerId", s.handleBalance)
		api.GET("/pollers", s.handleListPollers)
	}

	return s
}

// Run starts the HTTP listener.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests and custom servers.
func (s *Server) Handler() *gin.Engine {
	return s.router
}
