// Command metadata runs the metadata supervisor service: the HTTP front
// end for internal/metadata's YouTube Data API client, cache and quota
// accounting. Server lifecycle follows the teacher's
// cmd/ytarchiver-web/main.go and cmd/ytarchiver/main.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytarchive/fleet/internal/apienvelope"
	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/metadata"
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
	"github.com/ytarchive/fleet/internal/svcconfig"
	"github.com/ytarchive/fleet/internal/svclog"
)

var configFlag = flag.String("config", "", "path to a metadata.json config override")

func loadConfig() (svcconfig.MetadataConfig, error) {
	var cfg svcconfig.MetadataConfig
	paths := svcconfig.DefaultSearchPaths("metadata")
	if *configFlag != "" {
		paths = append([]string{*configFlag}, paths...)
	}
	if err := svcconfig.Load(&cfg, paths); err != nil {
		return cfg, fmt.Errorf("metadata: loading config: %w", err)
	}
	if err := svcconfig.ValidateAPIKey(cfg.YouTubeAPIKey); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildRouter(cfg svcconfig.MetadataConfig, sup *metadata.Supervisor) *gin.Engine {
	base := svclog.New("metadata", cfg.Debug)

	router := gin.New()
	router.Use(apienvelope.TraceMiddleware(), svclog.Middleware(base), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "metadata"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1/metadata")
	v1.GET("/video/:id", handleVideo(sup))
	v1.GET("/playlist/:id", handlePlaylist(sup))
	v1.POST("/batch", handleBatch(sup))
	v1.GET("/quota", handleQuota(sup))

	return router
}

func handleVideo(sup *metadata.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := sup.GetVideoMetadata(c.Request.Context(), c.Param("id"))
		respondMetadata(c, meta, err)
	}
}

func handlePlaylist(sup *metadata.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		meta, err := sup.GetPlaylistMetadata(c.Request.Context(), c.Param("id"))
		respondMetadata(c, meta, err)
	}
}

func respondMetadata(c *gin.Context, data any, err error) {
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrQuotaExceeded):
			apienvelope.Fail(c, http.StatusTooManyRequests, models.ErrCodeAPIQuotaExceeded, err.Error())
		case errors.Is(err, metadata.ErrNotFound):
			apienvelope.NotFound(c, models.ErrCodeVideoUnavailable, err.Error())
		default:
			apienvelope.Internal(c, err)
		}
		return
	}
	apienvelope.OK(c, http.StatusOK, data)
}

func handleBatch(sup *metadata.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VideoIDs []string `json:"video_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		result, err := sup.BatchFetchMetadata(c.Request.Context(), req.VideoIDs)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, result)
	}
}

func handleQuota(sup *metadata.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		apienvelope.OK(c, http.StatusOK, sup.GetQuotaStatus())
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	base := svclog.New("metadata", cfg.Debug)
	reporter := errrecovery.NewBasicErrorReporter("./data/error_reports/metadata", base)
	sup, err := metadata.New(context.Background(), cfg.YouTubeAPIKey, cfg.QuotaLimit, cfg.QuotaReserve, reporter)
	if err != nil {
		panic(err)
	}

	router := buildRouter(cfg, sup)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errchan := make(chan error, 1)
	exitchan := make(chan os.Signal, 1)
	signal.Notify(exitchan, os.Interrupt, syscall.SIGTERM)
	reloadchan := make(chan os.Signal, 1)
	signal.Notify(reloadchan, syscall.SIGHUP)

	go func() {
		errchan <- srv.ListenAndServe()
	}()

	for {
		select {
		case <-reloadchan:
			if newCfg, err := loadConfig(); err == nil {
				cfg = newCfg
			}
		case <-exitchan:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			return
		case err := <-errchan:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				panic(err)
			}
			return
		}
	}
}
