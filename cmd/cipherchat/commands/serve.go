package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cipherchat/config"
	"cipherchat/discovery"
	"cipherchat/gateway"
	"cipherchat/presence"
	"cipherchat/storage"
)

var (
	serveListenAddress string
	serveNoDiscovery   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddress, "listen", "", "gateway listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoDiscovery, "no-discovery", false, "disable mDNS advertising")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	listenAddress := cfg.ListenAddress
	if serveListenAddress != "" {
		listenAddress = serveListenAddress
	}

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("storage close failed")
		}
	}()

	logrus.WithFields(logrus.Fields{
		"server_id": cfg.ServerID,
		"database":  dbPath,
	}).Info("relay starting")

	registry := presence.NewRegistry()

	g, err := gateway.Listen(gateway.Options{
		ListenAddress: listenAddress,
		Store:         store,
		Registry:      registry,
	})
	if err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	defer g.Close()

	if cfg.EnableDiscovery && !serveNoDiscovery {
		port, err := gatewayPort(g.Addr())
		if err != nil {
			logrus.WithError(err).Warn("cannot determine gateway port, discovery disabled")
		} else {
			broadcaster, err := discovery.StartBroadcaster(discovery.Config{
				ServerID:    cfg.ServerID,
				ServerName:  cfg.ServerName,
				GatewayPort: port,
			})
			if err != nil {
				logrus.WithError(err).Warn("mDNS broadcast failed to start")
			} else {
				defer broadcaster.Stop()
				logrus.WithField("service", discovery.DefaultService).Info("mDNS broadcast started")
			}
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	received := <-signals

	logrus.WithField("signal", received.String()).Info("relay shutting down")
	return nil
}

func gatewayPort(addr net.Addr) (int, error) {
	_, portText, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("split gateway address: %w", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return 0, fmt.Errorf("parse gateway port: %w", err)
	}
	return port, nil
}
