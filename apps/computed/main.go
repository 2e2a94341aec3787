// Command computed serves a remote compute boundary over HTTP or gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChristianMct/ecd"
	"github.com/ChristianMct/ecd/objectstore"
	"github.com/ChristianMct/ecd/services/compute"
	"github.com/ChristianMct/ecd/transport/httptrans"
	"github.com/ChristianMct/ecd/utils"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

var (
	configFile = flag.String("config", "", "the TOML configuration file, defaults are used if empty")
	addr       = flag.String("address", "", "overrides the listening address of the configuration")
)

func main() {
	flag.Parse()

	cfg := defaultServerConfig()
	if *configFile != "" {
		var err error
		if cfg, err = loadServerConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "computed: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.Address = *addr
	}

	logger, err := utils.InitLogger("computed", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "computed: %v\n", err)
		os.Exit(1)
	}

	if err := serve(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func serve(cfg serverConfig, logger zerolog.Logger) error {
	objs, err := objectstore.NewObjectStoreFromConfig(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := objs.Close(); err != nil {
			logger.Error().Err(err).Msg("closing object store")
		}
	}()

	svc, err := compute.NewService(cfg.Service, objs, compute.WithLogger(logger))
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("transport", cfg.Transport).
		Str("address", lis.Addr().String()).
		Str("store", cfg.Store.BackendName).
		Msg("compute boundary listening")

	switch cfg.Transport {
	case transportGRPC:
		srv := ecd.NewComputeServer(svc)
		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		err = srv.Serve(lis)
		logger.Info().Str("stats", srv.GetStats().String()).Msg("network stats")
		return err
	default:
		srv := httptrans.NewServer(httptrans.NewHandler(svc, logger), cfg.MaxConns)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("shutdown")
			}
		}()
		return srv.Serve(lis)
	}
}
