package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/config"
	"broker-gateway/internal/credpool"
	"broker-gateway/internal/httpserver"
	"broker-gateway/internal/metrics"
	"broker-gateway/internal/models"
	"broker-gateway/internal/resilience"
	"broker-gateway/internal/router"
	"broker-gateway/internal/stream"
	"broker-gateway/pkg/utils"
)

func newServeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: `Run the gateway HTTP server.

The server exposes the unified order routing API under /api/v1, Prometheus
metrics under /metrics and a liveness probe under /healthz. Broker
credentials are taken from each request's Authorization header.`,
		Example: `  gateway serve
  gateway serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				app.Config.Server.Addr = addr
			}
			return runServer(cmd.Context(), app)
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides config)")
	return cmd
}

func runServer(ctx context.Context, app *App) error {
	cfg := app.Config
	log := app.Logger

	configs := brokerConfigs(cfg, app)
	registry := broker.DefaultRegistry(configs)
	if cfg.Paper.Enabled {
		book := broker.NewPaperBook()
		registry.Register(broker.BrokerPaper, func(models.Credential) broker.Adapter {
			return broker.NewPaper(book)
		})
		log.Info().Msg("paper broker enabled")
	}
	registry.Seal()

	m := metrics.New()
	rt := router.New(registry, m, log)

	hub := stream.NewHubWithConfig(stream.HubConfig{
		SubscriberBufferSize: cfg.Stream.SubscriberBuffer,
	})
	hub.OnDrop(func(id models.BrokerID) {
		m.StreamDrops.WithLabelValues(string(id)).Inc()
	})
	streams := stream.NewManager(rt, hub, stream.SessionConfig{
		ReconnectAttempts: cfg.Stream.ReconnectAttempts,
		ReconnectInterval: cfg.Stream.ReconnectInterval,
	}, log)
	streams.OnSessionStart(func(id models.BrokerID, s *stream.Session) {
		m.StreamSessions.Inc()
		s.OnReconnect(func(id models.BrokerID) {
			m.StreamRetries.WithLabelValues(string(id)).Inc()
		})
		s.OnTick(func(id models.BrokerID) {
			m.StreamTicks.WithLabelValues(string(id)).Inc()
		})
	})
	streams.OnSessionEnd(func(models.BrokerID) {
		m.StreamSessions.Dec()
	})
	defer streams.Close()

	angelCfg := configs[models.BrokerAngel]
	srv := httpserver.New(httpserver.Options{
		Router:   rt,
		Streams:  streams,
		Metrics:  m,
		Breakers: resilience.NewSet(resilience.DefaultConfig()),
		Sessions: credpool.New(cfg.Pool.MaxEntries, cfg.Pool.DefaultTTL),
		AngelLogin: func(ctx context.Context, clientCode, pin, totpSecret string) (models.Credential, error) {
			return broker.AngelLogin(ctx, angelCfg, clientCode, pin, totpSecret)
		},
		Retry: utils.RetryConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.BaseDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: 2.0,
		},
		APITokens:      cfg.Server.APITokens,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         log,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No blanket write timeout; /stream connections are long-lived.
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// brokerConfigs builds adapter configs from the gateway config. Missing
// entries leave the adapter on its production endpoints.
func brokerConfigs(cfg *config.Config, app *App) map[models.BrokerID]broker.Config {
	configs := make(map[models.BrokerID]broker.Config, len(cfg.Brokers))
	for key, bc := range cfg.Brokers {
		id, ok := models.ParseBrokerID(strings.ToUpper(key))
		if !ok {
			continue
		}
		configs[id] = broker.Config{
			BaseURL:   bc.BaseURL,
			StreamURL: bc.StreamURL,
			APIKey:    bc.APIKey,
			Logger:    app.Logger,
		}
	}
	for _, id := range models.Brokers() {
		if _, ok := configs[id]; !ok {
			configs[id] = broker.Config{Logger: app.Logger}
		}
	}
	return configs
}
