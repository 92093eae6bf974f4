// Command aulsmfsd is the admin daemon: it opens (or formats) an aulsmfs
// volume and exposes a gRPC health/reflection service plus a Prometheus
// /metrics HTTP endpoint over it. Its flag parsing, server construction, and
// signal-based graceful shutdown are grounded in the teacher's
// cmd/treestore/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nainya/aulsmfs/internal/admin"
	"github.com/nainya/aulsmfs/internal/config"
	"github.com/nainya/aulsmfs/internal/logger"
	"github.com/nainya/aulsmfs/internal/metrics"
	"github.com/nainya/aulsmfs/pkg/mtree"
	"github.com/nainya/aulsmfs/pkg/volume"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, defaults used otherwise)")
	volumePath := flag.String("volume", "", "override the configured volume path")
	adminAddr := flag.String("admin-addr", "", "override the configured gRPC admin listen address")
	metricsAddr := flag.String("metrics-addr", "", "override the configured metrics listen address")
	format := flag.Bool("format", false, "create a fresh volume at the volume path instead of opening an existing one")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "aulsmfsd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *volumePath != "" {
		cfg.VolumePath = *volumePath
	}
	if *adminAddr != "" {
		cfg.AdminListenAddr = *adminAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsListenAddr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "aulsmfsd: %v\n", err)
		os.Exit(1)
	}

	logger.InitGlobalLogger(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.AdminListenAddr, cfg.VolumePath)

	var vol *volume.Volume
	var err error
	if *format {
		vol, err = volume.Format(cfg.VolumePath, cfg.PageSize, mtree.BytesCompare)
	} else if _, statErr := os.Stat(cfg.VolumePath); os.IsNotExist(statErr) {
		log.Info("volume file does not exist, formatting a new one").Str("path", cfg.VolumePath).Send()
		vol, err = volume.Format(cfg.VolumePath, cfg.PageSize, mtree.BytesCompare)
	} else {
		vol, err = volume.Open(cfg.VolumePath, cfg.PageSize, mtree.BytesCompare)
	}
	if err != nil {
		log.Fatal("failed to open volume").Err(err).Send()
	}
	defer vol.Close()

	m := metrics.NewMetrics()
	srv := admin.New(vol, cfg.AdminListenAddr, cfg.MetricsListenAddr, log, m)
	if err := srv.Start(); err != nil {
		log.Fatal("failed to start admin server").Err(err).Send()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.LogServerShutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("error during shutdown").Err(err).Send()
	}
	if err := vol.Save(); err != nil {
		log.Error("error saving volume on shutdown").Err(err).Send()
	}
}
