package commands

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/internal/metrics"
	"github.com/marmos91/archnet/internal/netserver"
	"github.com/marmos91/archnet/pkg/config"
	"github.com/marmos91/archnet/pkg/ecsface"
	"github.com/marmos91/archnet/pkg/ecsmem"
	"github.com/marmos91/archnet/pkg/registry"
	"github.com/marmos91/archnet/pkg/wstransport"
)

var (
	startPort     uint16
	startTickRate int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the demo replication server",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().Uint16Var(&startPort, "port", 0, "listen port (overrides config)")
	startCmd.Flags().IntVar(&startTickRate, "tick-rate", 20, "server ticks per second")
}

// demoRegistry is the component schema the demo world replicates. Input is
// registered clientOwned; the demo motion (stepDemoWorld) does not read it,
// and the seeded entities do not carry it.
func demoRegistry() (*registry.Registry, error) {
	return registry.NewRegistry([]registry.ComponentDef{
		{Name: "Position", Fields: []registry.FieldSchema{
			{Name: "x", Type: registry.F32},
			{Name: "y", Type: registry.F32},
		}},
		{Name: "Velocity", Fields: []registry.FieldSchema{
			{Name: "dx", Type: registry.F32},
			{Name: "dy", Type: registry.F32},
		}},
		{Name: "Player", Fields: []registry.FieldSchema{
			{Name: "owner", Type: registry.U16},
		}},
		{Name: "Input", ClientOwned: true, Fields: []registry.FieldSchema{
			{Name: "ax", Type: registry.F32},
			{Name: "ay", Type: registry.F32},
		}},
	})
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if startPort != 0 {
		cfg.Port = startPort
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded",
		"port", cfg.Port, "reconnect_window", cfg.ReconnectWindow)

	reg, err := demoRegistry()
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}

	var m *metrics.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		m = metrics.New(promReg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			logger.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	world := ecsmem.New()
	seedDemoWorld(world)

	tr := wstransport.New(wstransport.Config{
		SendBuffer:       cfg.Transport.SendBuffer,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
	})

	srv, err := netserver.New(netserver.Options{
		Config:    cfg,
		ECS:       world,
		Registry:  reg,
		Transport: tr,
		Metrics:   m,
		Callbacks: netserver.Callbacks{
			OnConnect:    func(id uint16) { logger.Info("player joined", "client_id", id) },
			OnReconnect:  func(id uint16) { logger.Info("player resumed", "client_id", id) },
			OnDisconnect: func(id uint16) { logger.Info("player left", "client_id", id) },
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tickInterval := time.Second / time.Duration(startTickRate)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	logger.Info("server is running, press Ctrl+C to stop",
		"tick_rate", startTickRate)

	elapsed := 0.0
	for {
		select {
		case <-ticker.C:
			elapsed += tickInterval.Seconds()
			stepDemoWorld(world, elapsed)
			if err := srv.Tick(); err != nil {
				logger.Error("tick failed", "error", err)
			}
		case <-sigChan:
			signal.Stop(sigChan)
			logger.Info("shutdown signal received, stopping")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer shutdownCancel()

			if metricsServer != nil {
				_ = metricsServer.Shutdown(shutdownCtx)
			}
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
				return err
			}
			logger.Info("server stopped")
			return nil
		}
	}
}

// seedDemoWorld populates a handful of orbiting entities so a freshly
// connected client has something to watch.
func seedDemoWorld(world *ecsmem.Store) {
	for i := 0; i < 4; i++ {
		angle := float64(i) * math.Pi / 2
		world.CreateEntity(ecsface.EntityInit{
			Tag: netserver.DefaultTag,
			Components: []ecsface.ComponentInit{
				{Name: "Position", Fields: map[string]any{
					"x": float32(math.Cos(angle) * 10),
					"y": float32(math.Sin(angle) * 10),
				}},
				{Name: "Velocity", Fields: map[string]any{
					"dx": float32(0),
					"dy": float32(0),
				}},
			},
		})
	}
}

// stepDemoWorld advances every entity along a slow circle.
func stepDemoWorld(world *ecsmem.Store, elapsed float64) {
	posX := ecsface.FieldRef{Component: "Position", Field: "x", Type: registry.F32}
	posY := ecsface.FieldRef{Component: "Position", Field: "y", Type: registry.F32}

	ids := world.AllEntities()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if !world.HasComponent(id, "Position") {
			continue
		}
		angle := elapsed*0.5 + float64(i)*math.Pi/2
		world.Set(id, posX, float32(math.Cos(angle)*10))
		world.Set(id, posY, float32(math.Sin(angle)*10))
	}
}
