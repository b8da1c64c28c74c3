// Command rpma-serve exposes a memory region over the rpma fabric. It
// listens for incoming connections, hands each client the region's
// descriptor as connect-time private data, and serves remote reads until
// the client disconnects.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pmemlab/rpma"
	"github.com/pmemlab/rpma/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides config)")
	service := flag.String("service", "", "Listen service/port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rpma-serve %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *addr != "" {
		cfg.Addr = *addr
	}

	if *service != "" {
		cfg.Service = *service
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("rpma-serve shutdown complete")
}

func run(cfg *config.Config) error {
	dev, err := rpma.DeviceForAddr(cfg.Addr)
	if err != nil {
		return err
	}

	peer, err := rpma.NewPeer(dev)
	if err != nil {
		return err
	}

	placement := rpma.PlacementVolatile
	if cfg.Persistent {
		placement = rpma.PlacementPersistent
	}

	buf := make([]byte, cfg.RegionSize)
	fillPattern(buf)

	region, err := peer.RegisterMemory(buf, rpma.UsageReadSrc, placement)
	if err != nil {
		return err
	}

	descriptor, err := region.Descriptor()
	if err != nil {
		return err
	}

	ep, err := rpma.Listen(peer, cfg.Addr, cfg.Service)
	if err != nil {
		return err
	}

	log.Info().
		Str("addr", cfg.Addr).
		Str("service", cfg.Service).
		Int("region_size", cfg.RegionSize).
		Str("device", dev.Name()).
		Msg("Serving memory region")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = metricsSrv.Shutdown(shutdownCtx)

		return ep.Shutdown()
	})

	g.Go(func() error {
		connCfg := &rpma.ConnCfg{
			SendQueueDepth:       cfg.Queue.SendDepth,
			RecvQueueDepth:       cfg.Queue.RecvDepth,
			CompletionQueueDepth: cfg.Queue.CompletionDepth,
		}

		for {
			req, err := ep.NextConnReq()
			if err != nil {
				// Endpoint shut down.
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			conn, err := req.Connect(connCfg, descriptor)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to accept connection")
				continue
			}

			go serveConn(conn)
		}
	})

	return g.Wait()
}

// serveConn drains a client connection's events until it terminates, then
// deletes it. Reads are executed by the fabric directly against the
// registered region; the server only tracks the connection lifecycle.
func serveConn(conn *rpma.Conn) {
	for {
		ev, err := conn.NextEvent()
		if err != nil {
			break
		}

		log.Info().Stringer("event", ev).Msg("Client connection event")

		if ev == rpma.ConnClosed || ev == rpma.ConnLost {
			break
		}
	}

	if err := conn.Delete(); err != nil {
		log.Warn().Err(err).Msg("Failed to delete client connection")
	}
}

// fillPattern writes a recognizable byte pattern so clients can verify
// transfers end to end.
func fillPattern(buf []byte) {
	for i := range buf {
		buf[i] = byte(i % 251)
	}
}
