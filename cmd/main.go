package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cmlabs/modelproxy/config"
	"github.com/cmlabs/modelproxy/handler"
	"github.com/cmlabs/modelproxy/logging"
	"github.com/cmlabs/modelproxy/metrics"
	"go.uber.org/zap"
)

func main() {
	configFile, listeningPort, logLevel, watch := config.InitFlags()

	logger, err := logging.NewLogger(logLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	// A broken configuration refuses to start; reload failures later keep
	// the running snapshot instead.
	snap, err := config.Load(configFile, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.String("file", configFile), zap.Error(err))
	}

	collector := metrics.NewCollector()
	store := config.NewStore(snap, logger)
	store.OnReload = collector.ObserveReload

	if watch {
		watcher := config.NewWatcher(store, configFile, logger)
		go func() {
			if err := watcher.Watch(context.Background()); err != nil {
				logger.Error("Configuration watcher stopped", zap.Error(err))
			}
		}()
	}

	srv := handler.NewServer(store, configFile, collector, logger)

	addr := fmt.Sprintf(":%d", listeningPort)
	logger.Info("Starting server",
		zap.String("addr", addr),
		zap.Int("endpoints", len(snap.Endpoints)),
		zap.Strings("models", snap.ModelIDs()))
	if err := http.ListenAndServe(addr, srv.Routes()); err != nil {
		logger.Fatal("Server exited", zap.Error(err))
	}
}
