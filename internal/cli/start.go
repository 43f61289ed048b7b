package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rudransh-shrivastava/peer-link/internal/config"
	"github.com/rudransh-shrivastava/peer-link/internal/connections"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
	"github.com/rudransh-shrivastava/peer-link/internal/db"
	"github.com/rudransh-shrivastava/peer-link/internal/identity"
	"github.com/rudransh-shrivastava/peer-link/internal/logger"
	"github.com/rudransh-shrivastava/peer-link/internal/observability"
	"github.com/rudransh-shrivastava/peer-link/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func newStartCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open an interactive session",
		Long: `Open an interactive session.

Type /connect on both devices to pair. Once connected, anything typed is sent
to the peer and /send <file> transfers a file. Received files are written to
the cache directory.

Examples:
  peer-link start
  peer-link start --name "Swift Otter" --metrics-addr :9090
  PEERLINK_SERVICE_ID=com.example.rps peer-link start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runSession(cmd.Context(), cfg)
		},
	}

	config.BindFlags(cmd, v)
	cmd.Flags().StringVar(&configFile, "config", "", "config file path")
	return cmd
}

func runSession(ctx context.Context, cfg config.Config) error {
	console, err := NewConsole("> ")
	if err != nil {
		return fmt.Errorf("open console: %w", err)
	}
	defer func() { _ = console.Close() }()

	log := logger.New(console.Writer(), cfg.LogLevel)
	shutdown := observability.NewShutdownCoordinator(log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown.Shutdown(sctx); err != nil {
			log.Warn("Shutdown finished with errors", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	gdb, err := db.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	shutdown.Register("history", func(context.Context) error { return db.Close(gdb) })

	metrics := observability.NewMetrics()
	if cfg.MetricsAddr != "" {
		srv, err := observability.StartMetricsServer(cfg.MetricsAddr, metrics, log)
		if err != nil {
			return err
		}
		shutdown.Register("metrics", srv.Shutdown)
	}

	lan, err := connections.NewLAN(connections.LANConfig{
		ListenAddr:     cfg.ListenAddr,
		StagingDir:     cfg.StagingDir(),
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	shutdown.Register("transport", func(context.Context) error { return lan.Close() })

	coord, err := coordinator.New(coordinator.Config{
		Identity:  identity.New(cfg.Name),
		ServiceID: cfg.ServiceID,
		Transport: lan,
		CacheDir:  cfg.CacheDir,
		History:   store.NewHistoryStore(gdb),
		Metrics:   metrics,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	shutdown.Register("coordinator", func(context.Context) error {
		coord.Shutdown()
		return nil
	})

	s := newSession(coord, console, console.Writer())
	coord.Subscribe(s.notify)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = coord.Run(runCtx) }()
	go func() {
		<-runCtx.Done()
		_ = console.Close()
	}()

	console.Println(fmt.Sprintf("You are %s (%s). Type /connect to find a peer, /help for commands.", coord.Name(), lan.ID()))
	return s.loop(runCtx, console)
}
