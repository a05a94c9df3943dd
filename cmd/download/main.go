// Command download runs the download supervisor service: the HTTP front
// end for internal/download's bounded worker pool. Server lifecycle
// follows the teacher's cmd/ytarchiver-web/main.go and
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytarchive/fleet/internal/apienvelope"
	"github.com/ytarchive/fleet/internal/download"
	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
	"github.com/ytarchive/fleet/internal/svcconfig"
	"github.com/ytarchive/fleet/internal/svclog"
	"github.com/ytarchive/fleet/internal/svcerrors"
)

var configFlag = flag.String("config", "", "path to a download.json config override")

func loadConfig() (svcconfig.DownloadConfig, error) {
	var cfg svcconfig.DownloadConfig
	paths := svcconfig.DefaultSearchPaths("download")
	if *configFlag != "" {
		paths = append([]string{*configFlag}, paths...)
	}
	if err := svcconfig.Load(&cfg, paths); err != nil {
		return cfg, fmt.Errorf("download: loading config: %w", err)
	}
	return cfg, nil
}

func buildRouter(cfg svcconfig.DownloadConfig, sup *download.Supervisor, lister download.FormatLister) *gin.Engine {
	base := svclog.New("download", cfg.Debug)

	router := gin.New()
	router.Use(apienvelope.TraceMiddleware(), svclog.Middleware(base), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "download"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1/download")
	v1.POST("/video", handleStartDownload(sup))
	v1.GET("/progress/:task_id", handleProgress(sup))
	v1.POST("/cancel/:task_id", handleCancel(sup))
	v1.GET("/formats/:video_id", handleFormats(sup, lister))

	return router
}

func handleStartDownload(sup *download.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			VideoID          string   `json:"video_id" binding:"required"`
			Quality          string   `json:"quality" binding:"required"`
			OutputPath       string   `json:"output_path" binding:"required"`
			IncludeCaptions  bool     `json:"include_captions"`
			CaptionLanguages []string `json:"caption_languages"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}

		task, err := sup.StartDownload(c.Request.Context(), download.StartRequest{
			VideoID:          req.VideoID,
			Quality:          req.Quality,
			OutputPath:       req.OutputPath,
			IncludeCaptions:  req.IncludeCaptions,
			CaptionLanguages: req.CaptionLanguages,
		})
		if err != nil {
			if errors.Is(err, download.ErrUnknownQuality) {
				apienvelope.Fail(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
				return
			}
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, gin.H{"task_id": task.TaskID})
	}
}

func handleProgress(sup *download.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		progress, err := sup.GetProgress(c.Param("task_id"))
		if err != nil {
			apienvelope.NotFound(c, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		apienvelope.OK(c, http.StatusOK, progress)
	}
}

func handleCancel(sup *download.Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := sup.Cancel(c.Param("task_id"))
		switch {
		case err == nil:
			apienvelope.OK(c, http.StatusOK, gin.H{"cancelled": true})
		case errors.Is(err, download.ErrTaskNotFound):
			apienvelope.NotFound(c, models.ErrCodeInvalidRequest, err.Error())
		case errors.Is(err, download.ErrCannotCancel):
			apienvelope.Fail(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
		default:
			apienvelope.Internal(c, err)
		}
	}
}

func handleFormats(sup *download.Supervisor, lister download.FormatLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		formats, err := sup.GetFormats(c.Request.Context(), lister, c.Param("video_id"))
		if err != nil {
			if errors.Is(err, download.ErrVideoUnavailable) {
				apienvelope.NotFound(c, models.ErrCodeVideoUnavailable, err.Error())
				return
			}
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, formats)
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	runner := &download.ExecRunner{ExecutablePath: cfg.Downloader}
	lister := &download.ExecFormatLister{ExecutablePath: cfg.Downloader, Extract: download.ExtractFormats}
	base := svclog.New("download", cfg.Debug)

	handler := svcerrors.NewDownloadErrorHandler(base)
	reporter := errrecovery.NewBasicErrorReporter(filepath.Join(filepath.Dir(cfg.OutputDir), "error_reports", "download"), base)
	sup := download.New(runner, cfg.MaxConcurrent, base, handler, reporter)

	router := buildRouter(cfg, sup, lister)
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
			sup.Wait()
			return
		case err := <-errchan:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				panic(err)
			}
			return
		}
	}
}
