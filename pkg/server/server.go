/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpuserver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/backoff"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/config"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/gpu"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/handlers"
	task_handlers "github.com/AMD-AIG-AIMA/gpu-server/pkg/handlers/task-handlers"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/httpserver"
	commonklog "github.com/AMD-AIG-AIMA/gpu-server/pkg/klog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/models"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/options"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/pipeline"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
)

const (
	gracefulStopTimeout = 30 * time.Second

	pingMaxElapsed  = 30 * time.Second
	pingMaxInterval = 5 * time.Second
)

type Server struct {
	opts       *options.Options
	httpServer *http.Server

	runtime   runtime.Interface
	allocator *gpu.Allocator
	refresher *gpu.Refresher
	registry  *sessions.Registry
	reaper    *sessions.Reaper
	pipeline  *pipeline.Pipeline
	handler   *task_handlers.Handler

	ctx      context.Context
	isInited bool
}

func NewServer() (*Server, error) {
	s := &Server{
		opts: &options.Options{},
		ctx:  setupSignalHandler(),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	gin.SetMode(gin.ReleaseMode)
	var err error
	if err = s.opts.InitFlags(); err != nil {
		klog.ErrorS(err, "failed to parse flags")
		return err
	}
	if err = s.initLogs(); err != nil {
		klog.ErrorS(err, "failed to init logs")
		return err
	}
	if err = s.initConfig(); err != nil {
		klog.ErrorS(err, "failed to init config")
		return err
	}
	if err = s.initComponents(); err != nil {
		klog.ErrorS(err, "failed to init components")
		return err
	}
	s.isInited = true
	return nil
}

func (s *Server) initLogs() error {
	return commonklog.Init(s.opts.LogfilePath, s.opts.LogFileSize)
}

func (s *Server) initConfig() error {
	if s.opts.Config == "" {
		return nil
	}
	fullPath, err := filepath.Abs(s.opts.Config)
	if err != nil {
		return err
	}
	if err = config.LoadConfig(fullPath); err != nil {
		return fmt.Errorf("config path: %s, err: %v", fullPath, err)
	}
	return nil
}

func (s *Server) initComponents() error {
	rt, err := runtime.NewDockerRuntime(runtime.Options{
		SocketPath:    config.GetDockerSocketPath(),
		MemoryLimit:   config.GetTaskMemoryLimit(),
		CpuQuota:      config.GetTaskCpuQuota(),
		AllowedImages: config.GetAllowedDockerImages(),
	})
	if err != nil {
		return err
	}
	s.runtime = rt

	// The docker daemon may still be coming up alongside us.
	err = backoff.Retry(func() error {
		return s.runtime.Ping(context.Background())
	}, pingMaxElapsed, pingMaxInterval)
	if err != nil {
		return fmt.Errorf("docker daemon is not reachable: %v", err)
	}

	if removed, err := s.runtime.CleanupManaged(s.ctx); err != nil {
		klog.Warningf("startup container cleanup failed: %v", err)
	} else if removed > 0 {
		klog.Infof("removed %d leftover containers from a previous run", removed)
	}

	cat := catalog.NewCatalog(config.GetTaskConfigDir(),
		config.GetDefaultTaskTimeoutSecond(), config.GetMaxTaskTimeoutSecond())

	s.allocator = gpu.NewAllocator(config.GetGpuDeviceIds(), config.GetGpuDeviceDifficulty())
	s.refresher = gpu.NewRefresher(s.allocator, gpu.NewSmiTelemetry(),
		time.Duration(config.GetGpuMetricsRefreshInterval())*time.Second)

	fetcher := models.NewHttpFetcher(config.GetFileServiceUrl(), config.GetFileServiceInternalKey())
	cache, err := models.NewCache(config.GetModelCacheDir(), config.IsAutoFetchModels(), fetcher)
	if err != nil {
		return fmt.Errorf("init model cache: %v", err)
	}

	s.registry = sessions.NewRegistry(s.runtime, s.allocator, config.GetSessionQueueMaxSize())
	s.reaper = sessions.NewReaper(s.registry,
		time.Duration(config.GetMonitorIntervalSecond())*time.Second,
		time.Duration(config.GetSessionIdleTimeoutSecond())*time.Second,
		time.Duration(config.GetSessionMaxLifetimeSecond())*time.Second)

	s.pipeline = pipeline.NewPipeline(cat, cache, s.allocator, s.registry, s.runtime)
	s.handler = task_handlers.NewHandler(s.pipeline, s.registry, s.allocator, s.runtime)
	return nil
}

func (s *Server) Start() {
	if !s.isInited {
		klog.Errorf("please init gpu-server first")
		return
	}
	gin.EnableJsonDecoderDisallowUnknownFields()

	klog.Infof("starting gpu-server")
	if config.GetServerPort() <= 0 {
		klog.Errorf("the gpu-server port is not defined")
		os.Exit(-1)
	}
	engine := handlers.InitHttpHandlers(s.handler)
	addr := fmt.Sprintf(":%d", config.GetServerPort())
	s.httpServer = &http.Server{Addr: addr, Handler: engine}

	s.refresher.Start()
	s.reaper.Start()

	klog.Infof("http-server listen port: %d", config.GetServerPort())
	if err := httpserver.Run(s.ctx.Done(), gracefulStopTimeout, s.httpServer); err != nil {
		klog.ErrorS(err, "http-server was not shut down cleanly")
	}
	s.Stop()
}

func (s *Server) Stop() {
	s.reaper.Stop()
	s.refresher.Stop()
	s.pipeline.Shutdown()
	s.registry.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer cancel()
	if removed, err := s.runtime.CleanupManaged(ctx); err != nil {
		klog.Warningf("shutdown container cleanup failed: %v", err)
	} else if removed > 0 {
		klog.Infof("removed %d containers during shutdown", removed)
	}
	if err := s.runtime.Close(); err != nil {
		klog.Warningf("failed to close the container runtime: %v", err)
	}

	klog.Info("gpu-server is stopped")
	klog.Flush()
}

var onlyOneSignalHandler = make(chan struct{})

// setupSignalHandler returns a context cancelled on SIGINT or SIGTERM. A
// second signal exits immediately.
func setupSignalHandler() context.Context {
	close(onlyOneSignalHandler) // panics when called twice

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
