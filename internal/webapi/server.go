// Package webapi exposes the library service over HTTP.
package webapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quietlibrary/tracker/internal/auth"
	"github.com/quietlibrary/tracker/pkg/library"
)

// Run boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, service *library.Service, tokenManager *auth.TokenManager, logger *zap.Logger) error {
	handler := &httpHandler{
		logger:       logger,
		service:      service,
		tokenManager: tokenManager,
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webapi listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/login", handler.handleLogin)
	router.POST("/mpesa/callback", handler.handlePaymentCallback)

	api := router.Group("/")
	api.Use(handler.authMiddleware())

	api.GET("/books", handler.handleListBooks)
	api.POST("/books/:id/borrow", handler.handleRequestBorrow)
	api.POST("/books/:id/checkout", handler.handleCheckout)
	api.GET("/borrows", handler.handleMyBorrows)
	api.DELETE("/borrows/:id", handler.handleCancelBorrow)
	api.GET("/payments/:id/status", handler.handlePaymentStatus)

	admin := api.Group("/admin")
	admin.Use(handler.requireAdministrator())

	admin.GET("/users", handler.handleListUsers)
	admin.POST("/users", handler.handleRegisterUser)
	admin.PUT("/users/:id", handler.handleEditUser)
	admin.DELETE("/users/:id", handler.handleDeleteUser)
	admin.POST("/books", handler.handleAddBook)
	admin.GET("/borrows", handler.handleBorrowRequests)
	admin.POST("/borrows/:id/approve", handler.handleApproveBorrow)
	admin.POST("/borrows/:id/pickup", handler.handleMarkPickedUp)
	admin.POST("/borrows/:id/return", handler.handleMarkReturned)
	admin.GET("/sales", handler.handleListSales)
	admin.GET("/sales/analytics", handler.handleSalesAnalytics)

	return router
}
