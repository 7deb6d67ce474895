package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cyphal-go/udptransport/internal/config"
	"github.com/cyphal-go/udptransport/internal/cyphal"
	"github.com/cyphal-go/udptransport/internal/metrics"
	"github.com/cyphal-go/udptransport/internal/transport"
)

// arenaLimitBuffers bounds how many buffers each pool arena may have
// checked out at once; Get calls beyond it are refused and counted in
// the arena's Denied statistic.
const arenaLimitBuffers = 16 << 20

// tickInterval bounds how long each RunFor call blocks waiting for
// poller readiness before the run loop re-checks for cancellation.
const tickInterval = 100 * time.Millisecond

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 5 * time.Second

var (
	configPath  string
	nodeID      uint16
	anonymous   bool
	interfaces  []string
	metricsAddr string
)

// rootCmd is the top-level cobra command for cyudp-node.
var rootCmd = &cobra.Command{
	Use:   "cyudp-node",
	Short: "Demonstration node for the Cyphal/UDP transport",
	Long:  "cyudp-node publishes, subscribes to, and serves Cyphal/UDP transfers directly against the transport library, with no intermediate daemon.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")
	rootCmd.PersistentFlags().Uint16Var(&nodeID, "node-id", 0, "override transport.node_id")
	rootCmd.PersistentFlags().BoolVar(&anonymous, "anonymous", false, "override transport.anonymous")
	rootCmd.PersistentFlags().StringSliceVar(&interfaces, "iface", nil, "override transport.interfaces (repeatable)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "override metrics.addr")

	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(subscribeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadNodeConfig loads the configuration file (or defaults) and
// overlays the persistent CLI flags on top, mirroring gobfd's
// loadConfig + flag-override pattern.
func loadNodeConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", configPath, err)
		}
		cfg = c
	} else {
		cfg = config.DefaultConfig()
	}

	if nodeID != 0 {
		cfg.Transport.NodeID = nodeID
	}
	if anonymous {
		cfg.Transport.Anonymous = true
	}
	if len(interfaces) > 0 {
		cfg.Transport.Interfaces = interfaces
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// buildTransportConfig converts the loaded configuration into a
// transport.Config ready for NewCoordinator.
func buildTransportConfig(cfg *config.Config) (transport.Config, error) {
	addrs, err := cfg.Transport.InterfaceAddrs()
	if err != nil {
		return transport.Config{}, err
	}
	if len(addrs) == 0 {
		addrs = []netip.Addr{netip.MustParseAddr("127.0.0.1")}
	}

	return transport.Config{
		LocalNodeID:             cfg.Transport.NodeID,
		Anonymous:               cfg.Transport.Anonymous,
		InterfaceAddresses:      addrs,
		MTUBytes:                cfg.Transport.MTUBytes,
		TXQueueCapacityPerIface: cfg.Transport.TXQueueCapacityBytes,
		TXQueueArena:            cyphal.NewPoolArena(cfg.Transport.MTUBytes, arenaLimitBuffers),
		RXPayloadArena:          cyphal.NewPoolArena(cfg.Transport.MTUBytes, arenaLimitBuffers),
		TransferIDTimeout:       cfg.Transport.TransferIDTimeout,
	}, nil
}

// newLogger builds a slog.Logger from the configured level and format,
// mirroring gobfd's newLoggerWithLevel helper.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level := config.ParseLogLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// runOptions parameterizes runNode's shared startup/shutdown harness
// with the per-subcommand behavior that actually exercises the
// transport.
type runOptions struct {
	// setup creates whatever output/input sessions this subcommand
	// needs, once, right after the Coordinator initializes.
	setup func(c *transport.Coordinator, logger *slog.Logger) error
	// tick runs once per run-loop iteration, right after RunFor
	// returns, from the same goroutine that drives the Coordinator,
	// required by the transport's single-threaded contract. Returning
	// true requests that runNode shut down (used by one-shot
	// subcommands such as call).
	tick func(c *transport.Coordinator, now time.Time, logger *slog.Logger) (done bool)
}

// runNode builds a Coordinator and metrics server from the loaded
// configuration and drives both until interrupted, grounded on
// cmd/gobfd/main.go's run()/runServers() errgroup-plus-signal-context
// split.
func runNode(cmd *cobra.Command, opts runOptions) error {
	cfg, err := loadNodeConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)

	tcfg, err := buildTransportConfig(cfg)
	if err != nil {
		return fmt.Errorf("build transport config: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	coord := transport.NewCoordinator(tcfg, logger)
	coord.SetMetrics(collector)
	if st := coord.Initialize(); !st.OK() {
		return fmt.Errorf("initialize transport: %s", st.Error())
	}
	defer coord.Close()

	if opts.setup != nil {
		if err := opts.setup(coord, logger); err != nil {
			return fmt.Errorf("set up sessions: %w", err)
		}
	}

	if err := openConfiguredPorts(coord, cfg.Ports, logger); err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCtx, cancelAll := context.WithCancel(signalCtx)
	defer cancelAll()

	g, gCtx := errgroup.WithContext(rootCtx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runLoop(gCtx, coord, opts.tick, logger, cancelAll)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run node: %w", err)
	}
	return nil
}

// runLoop drives the Coordinator's bounded cooperative work until ctx
// is cancelled, calling tick once per iteration from the same
// goroutine (section 5: no internal locking means no concurrent
// caller may touch the Coordinator).
func runLoop(ctx context.Context, coord *transport.Coordinator, tick func(*transport.Coordinator, time.Time, *slog.Logger) bool, logger *slog.Logger, cancelAll context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if st := coord.RunFor(tickInterval); !st.OK() {
			logger.Warn("run_for returned error", "status", st.Error())
		}

		if tick != nil && tick(coord, time.Now(), logger) {
			cancelAll()
			return nil
		}
	}
}

// listenAndServe creates a TCP listener using a ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
