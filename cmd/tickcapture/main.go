// Command tickcapture runs a single capture node: it joins a multicast
// market-data feed, validates incoming records, and appends them to
// per-symbol tick files, per spec.md §5.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codewanderer/tickcapture/internal/config"
	"github.com/codewanderer/tickcapture/internal/coordinator"
	"github.com/codewanderer/tickcapture/internal/network"
	"github.com/codewanderer/tickcapture/internal/storage"
	"github.com/codewanderer/tickcapture/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional; defaults apply otherwise)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	configureLogging(logger, cfg)

	nodeCfg := supervisor.Config{
		RingSize: cfg.Ring.Size,
		Network: network.Config{
			MulticastAddr:    cfg.Network.MulticastAddr,
			Port:             cfg.Network.Port,
			SocketBufferSize: cfg.Network.SocketBufferSize,
			ScratchBufSize:   cfg.Network.ScratchBufSize,
			EnableTimestamps: cfg.Network.EnableTimestamps,
		},
		Storage: storage.Config{
			BaseDir:         cfg.Storage.OutputDir,
			BatchSize:       cfg.Storage.BatchSize,
			FlushPerWrite:   cfg.Storage.FlushPerWrite,
			VerifyChecksums: cfg.Storage.VerifyChecksums,
		},
		ReportInterval: time.Duration(cfg.Reporting.IntervalMS) * time.Millisecond,
	}

	var status coordinator.StatusPublisher = coordinator.Noop{}
	if cfg.Coordinator.Enabled {
		status = coordinator.New(coordinator.Config{
			Brokers:         cfg.Coordinator.Brokers,
			Topic:           cfg.Coordinator.Topic,
			NodeID:          cfg.Coordinator.NodeID,
			HeartbeatPeriod: time.Duration(cfg.Coordinator.HeartbeatMS) * time.Millisecond,
		}, logger)
	}

	node, err := supervisor.New(nodeCfg, logger, status)
	if err != nil {
		logger.Fatalf("failed to build capture node: %v", err)
	}

	if err := node.Start(); err != nil {
		logger.Fatalf("failed to start capture node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("capture node running, press Ctrl+C to shut down")
	<-ctx.Done()

	node.Stop()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.Storage.OutputDir = "./data"
		cfg.Storage.VerifyChecksums = true
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func configureLogging(logger *logrus.Logger, cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.File == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		logger.WithError(err).Warn("failed to create log directory, logging to stdout only")
		return
	}

	fileLogger := &lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, fileLogger))
}
