// Command jobs runs the orchestrator service: job CRUD, the service
// registry, and playlist/video execution against the Download, Metadata
// and Storage services. Server lifecycle follows the teacher's
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ytarchive/fleet/internal/apiclient"
	"github.com/ytarchive/fleet/internal/apienvelope"
	"github.com/ytarchive/fleet/internal/errrecovery"
	"github.com/ytarchive/fleet/internal/jobs"
	"github.com/ytarchive/fleet/internal/metrics"
	"github.com/ytarchive/fleet/internal/models"
	"github.com/ytarchive/fleet/internal/registry"
	"github.com/ytarchive/fleet/internal/svcconfig"
	"github.com/ytarchive/fleet/internal/svclog"
)

var configFlag = flag.String("config", "", "path to a jobs.json config override")

func loadConfig() (svcconfig.JobsConfig, error) {
	var cfg svcconfig.JobsConfig
	paths := svcconfig.DefaultSearchPaths("jobs")
	if *configFlag != "" {
		paths = append([]string{*configFlag}, paths...)
	}
	if err := svcconfig.Load(&cfg, paths); err != nil {
		return cfg, fmt.Errorf("jobs: loading config: %w", err)
	}
	return cfg, nil
}

func buildRouter(cfg svcconfig.JobsConfig, orch *jobs.Orchestrator, store *jobs.Store, reg *registry.Registry) *gin.Engine {
	base := svclog.New("jobs", cfg.Debug)

	router := gin.New()
	router.Use(apienvelope.TraceMiddleware(), svclog.Middleware(base), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "jobs"})
	})
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	v1.POST("/jobs", handleCreateJob(store))
	v1.GET("/jobs/:id", handleGetJob(store))
	v1.GET("/jobs", handleListJobs(store))
	v1.PUT("/jobs/:id/execute", handleExecuteJob(orch))

	v1.POST("/registry/register", handleRegister(reg))
	v1.GET("/registry/services", handleListServices(reg))
	v1.DELETE("/registry/services/:name", handleUnregister(reg))

	return router
}

func handleCreateJob(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			JobType models.JobType    `json:"job_type" binding:"required"`
			URLs    []string          `json:"urls" binding:"required"`
			Options models.JobOptions `json:"options"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		job, err := store.Create(jobs.CreateRequest{Type: req.JobType, URLs: req.URLs, Options: req.Options})
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, job)
	}
}

func handleGetJob(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := store.Get(c.Param("id"))
		if err != nil {
			apienvelope.NotFound(c, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		apienvelope.OK(c, http.StatusOK, job)
	}
}

func handleListJobs(store *jobs.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := jobs.ListOptions{Status: models.JobStatus(c.Query("status_filter"))}
		if limit := c.Query("limit"); limit != "" {
			fmt.Sscanf(limit, "%d", &opts.Limit)
		}
		list, err := store.List(opts)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, list)
	}
}

func handleExecuteJob(orch *jobs.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		job, err := orch.Execute(c.Request.Context(), jobID)
		if err == nil {
			apienvelope.OK(c, http.StatusOK, job)
			return
		}
		if errors.Is(err, jobs.ErrNotExecutable) {
			apienvelope.Fail(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		if errors.Is(err, jobs.ErrNotFound) {
			apienvelope.NotFound(c, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		// A started-but-failed execution still reports 200 with the job's
		// FAILED status: the HTTP call succeeded even though the job did not.
		apienvelope.OK(c, http.StatusOK, job)
	}
}

func handleRegister(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registry.Registration
		if err := c.ShouldBindJSON(&req); err != nil {
			apienvelope.Fail(c, http.StatusUnprocessableEntity, models.ErrCodeInvalidRequest, err.Error())
			return
		}
		svc, err := reg.Register(req)
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, svc)
	}
}

func handleListServices(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		services, err := reg.List()
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		apienvelope.OK(c, http.StatusOK, services)
	}
}

func handleUnregister(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := reg.Unregister(c.Param("name"))
		if err != nil {
			apienvelope.Internal(c, err)
			return
		}
		if !removed {
			apienvelope.NotFound(c, models.ErrCodeInvalidRequest, "service not registered")
			return
		}
		apienvelope.OK(c, http.StatusOK, gin.H{"unregistered": true})
	}
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	store, err := jobs.NewStore(cfg.DataDir)
	if err != nil {
		panic(err)
	}
	reg, err := registry.New(filepath.Join(cfg.DataDir, "registry"))
	if err != nil {
		panic(err)
	}

	base := svclog.New("jobs", cfg.Debug)
	clients := jobs.Clients{
		Download: apiclient.New(cfg.DownloadURL),
		Metadata: apiclient.New(cfg.MetadataURL),
		Storage:  apiclient.New(cfg.StorageURL),
	}
	reporter := errrecovery.NewBasicErrorReporter(filepath.Join(cfg.DataDir, "error_reports"), base)
	orch := jobs.NewOrchestrator(store, clients, cfg.DefaultConcurrency, cfg.MaxConcurrency, filepath.Join(cfg.DataDir, "playlist_results"), base, reporter)

	router := buildRouter(cfg, orch, store, reg)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
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
