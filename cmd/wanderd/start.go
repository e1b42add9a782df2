package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kaholaz/wander/pkg/codec"
	"github.com/Kaholaz/wander/pkg/config"
	"github.com/Kaholaz/wander/pkg/netstack"
	"github.com/Kaholaz/wander/pkg/node"
	"github.com/Kaholaz/wander/pkg/observability"
	"github.com/Kaholaz/wander/pkg/packet"
	"github.com/Kaholaz/wander/pkg/routing"
	"github.com/Kaholaz/wander/pkg/transport"
)

func init() {
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the overlay node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(configPath)
	},
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return err
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("wanderd started", zap.String("app", cfg.AppName), zap.Uint16("node", cfg.NodeID))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := routing.NewTable(packet.NodeID(cfg.NodeID))
	mgr := transport.NewManager()
	reg := codec.NewRegistry()

	stack := netstack.New(mgr, reg, cfg.AppName, netstack.Options{
		BackoffInitial: time.Duration(cfg.Net.DialBackoffInitialMS) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Net.DialBackoffMaxMS) * time.Millisecond,
		BackoffJitter:  time.Duration(cfg.Net.DialBackoffJitterMS) * time.Millisecond,
		AdvertInterval: time.Duration(cfg.Net.AdvertIntervalMS) * time.Millisecond,
	})

	var verifier packet.Verifier = packet.NoopVerifier{}
	if cfg.External.VerifyChecksums {
		verifier = packet.CRC32Verifier{}
	}
	n := node.New(packet.NodeID(cfg.NodeID), table, stack.Send, node.WithVerifier(verifier))

	stop, err := stack.Start(ctx, n, cfg.Transports, cfg.External.Listen)
	if err != nil {
		zap.L().Error("failed to start transports", zap.Error(err))
		return err
	}

	zap.L().Info("node is running; press Ctrl+C to exit")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	zap.L().Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	stop()
	mgr.CloseAll()
	return nil
}
