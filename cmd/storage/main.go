// Command storage runs the storage supervisor service: the HTTP front end
// for internal/storage's filesystem layout, metadata persistence, and
// recovery-plan generation. Server lifecycle (graceful shutdown, SIGHUP
// config reload) follows the teacher's cmd/ytarchiver-web/main.go and
// cmd/ytarchiver/main.go.
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
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
	"github.com/ytarchive/fleet/internal/storage"
	"github.com/ytarchive/fleet/internal/svclog"
	"github.com/ytarchive/fleet/internal/svcconfig"
)

var configFlag = flag.String("config", "", "path to a storage.json config override")

func loadConfig() (svcconfig.StorageConfig, error) {
	var cfg svcconfig.StorageConfig
	paths := svcconfig.DefaultSearchPaths("storage")
	if *configFlag != "" {
		paths = append([]string{*configFlag}, paths...)
	}
	if err := svcconfig.Load(&cfg, paths); err != nil {
		return cfg, fmt.Errorf("storage: loading config: %w", err)
	}
	return cfg, nil
}

func buildRouter(cfg svcconfig.StorageConfig, sup *storage.Supervisor) *gin.Engine {
	base := svclog.New("storage", cfg.Debug)

	router := gin.New()
	router.Use(apienvelope.TraceMiddleware(), svclog.Middleware(base), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "storage"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1/storage")
	v1.POST("/save/metadata", handleSaveMetadata(sup))
	v1.POST("/save/video", handleSaveVideo(sup))
	v1.GET("/exists/:id", handleExists(sup))
	v1.GET("/metadata/:id", handleGetMetadata(sup))
	v1.GET("/path/:id", handleGetPath(sup))
	v1.POST("/recovery", handleRecovery(sup))
	v1.POST("/recovery-summary", handleRecoverySummary())
	v1.GET("/stats", handleStats(sup))

	return router
}

func handleSaveMetadata(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VideoID  string         `json:"video_id" binding:"required"`
			Metadata map[string]any `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		result, err := sup.SaveMetadata(req.VideoID, req.Metadata)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, result)
	}
}

func handleSaveVideo(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req storage.SaveVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		result, err := sup.SaveVideoInfo(req)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, result)
	}
}

func handleExists(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		existence, err := sup.CheckExists(c.Param("id"))
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, existence)
	}
}

func handleGetMetadata(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		metadata, err := sup.GetStoredMetadata(c.Param("id"))
		if err != nil {
			if errors.Is(err, storage.ErrMetadataNotFound) {
				apienvelope.NotFound(c, models.ErrCodeInvalidRequest, err.Error())
				return
			}
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, metadata)
	}
}

func handleGetPath(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		quality := c.DefaultQuery("quality", "best")
		path, err := sup.GetStoragePath(c.Param("id"), quality)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, gin.H{"output_path": path})
	}
}

func handleRecovery(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Unavailable []models.UnavailableVideo `json:"unavailable_videos"`
			Failed      []models.FailedDownload   `json:"failed_downloads"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		plan, err := sup.GenerateRecoveryPlan(req.Unavailable, req.Failed)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, plan)
	}
}

// handleRecoverySummary is an extension beyond §6's representative route
// list: the jobs orchestrator best-effort POSTs a playlist execution
// summary here for operators inspecting recent activity. It is
// intentionally a no-op sink; nothing downstream currently reads it back.
func handleRecoverySummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		apienvelope.OK(c, http.StatusOK, nil)
	}
}

func handleStats(sup *storage.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := sup.Stats()
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, stats)
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	sup, err := storage.New(cfg.BaseDir)
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
			newCfg, err := loadConfig()
			if err != nil {
				continue
			}
			cfg = newCfg
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
