package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/TreeSnap/Export-Service/cmd/middleware"
	"github.com/TreeSnap/Export-Service/internal/api"
	"github.com/TreeSnap/Export-Service/internal/api/handlers"
	"github.com/TreeSnap/Export-Service/internal/api/handlers/user"
	"github.com/TreeSnap/Export-Service/internal/export"
	"github.com/TreeSnap/Export-Service/internal/metrics"
	natsroutes "github.com/TreeSnap/Export-Service/internal/nats"
	"github.com/TreeSnap/Export-Service/internal/projection"
	"github.com/TreeSnap/Export-Service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event consumers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Tracing.Enabled {
		tracer.Start(
			tracer.WithService(cfg.Tracing.ServiceName),
			tracer.WithEnv(cfg.Tracing.Env),
		)
		defer tracer.Stop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exportMetrics, err := metrics.NewExportMetrics(registry)
	if err != nil {
		return err
	}

	var bus *services.EventBus
	var events export.EventPublisher
	if cfg.NATS.Enabled {
		bus, err = services.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			// exports still work, completion events are dropped
			zap.L().Warn("[NATS] unavailable, continuing without events", zap.Error(err))
			bus = nil
		} else {
			defer bus.Close()
			events = bus
		}
	}

	p, err := a.buildPipeline(ctx, exportMetrics, events)
	if err != nil {
		return err
	}
	defer p.store.Close()

	if bus != nil {
		deleted := &user.DeletedHandler{Records: p.store, Objects: p.minio}
		if _, err := natsroutes.SubscribeAll(bus, natsroutes.Routes(deleted)); err != nil {
			zap.L().Warn("[NATS] failed to subscribe routes", zap.Error(err))
		}
	}

	if err := middleware.InitAuth(ctx, cfg.Auth.IssuerURL, cfg.Auth.ClientID); err != nil {
		return err
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(gintrace.Middleware(cfg.Tracing.ServiceName))
	}

	h := handlers.New(p.store, p.writer, projection.NewProjector(cfg.Server.PublicURL, p.fuzzy), p.fuzzy, p.minio, cfg.Export.BatchSize)
	api.RegisterRoutes(r, h, api.Options{
		Gatherer:         registry,
		ExportsPerMinute: cfg.Export.RatePerMinute,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
