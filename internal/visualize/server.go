package visualize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const DefaultAddr = "127.0.0.1:8080"

var releaseModeOnce sync.Once

// NewRouter serves a prepared report:
//
//	GET /                          HTML report
//	GET /api/recording             report as JSON
//	GET /api/events/:idx/image.png marked screenshot of one event
func NewRouter(report *Report, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	releaseModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/", func(c *gin.Context) {
		var buf bytes.Buffer
		if err := RenderHTML(&buf, report); err != nil {
			logger.Error("render report failed", "error", err)
			c.String(http.StatusInternalServerError, "render report failed")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
	})

	api := router.Group("/api")
	api.GET("/recording", func(c *gin.Context) {
		c.JSON(http.StatusOK, report)
	})
	api.GET("/events/:idx/image.png", func(c *gin.Context) {
		idx, err := strconv.Atoi(c.Param("idx"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "event index must be an integer"})
			return
		}
		data, ok := report.EventPNG(idx)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "event image not found"})
			return
		}
		c.Data(http.StatusOK, "image/png", data)
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "route not found"})
	})
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Serve runs the router on addr until ctx is cancelled, then shuts down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = DefaultAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("visualization server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}
		logger.Info("visualization server stopped", "addr", addr)
		return nil
	}
}
