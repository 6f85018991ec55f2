package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with every route registered. bridge may
// be nil, which leaves /ws unregistered.
func NewRouter(h *Handler, bridge *Bridge) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.GET("/status", h.Status)
		api.POST("/sync", h.TriggerSync)
		api.GET("/summaries", h.ListSummaries)
		api.DELETE("/summaries/:id", h.DeleteSummary)
		api.DELETE("/data", h.DeleteAll)
		api.GET("/audit", h.AuditLog)
	}

	if bridge != nil {
		r.GET("/ws", bridge.Serve)
	}
	return r
}

// ListenAndServe runs the router on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
