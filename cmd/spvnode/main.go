// Command spvnode runs a filtered-block SPV node: it syncs headers from a
// set of seed peers, downloads the Merkle blocks matching a bloom filter
// built from watched data elements, and delivers the results to the
// configured wallet sinks.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/goodnatureofminers/spvnode/internal/clock"
	"github.com/goodnatureofminers/spvnode/internal/metrics"
	"github.com/goodnatureofminers/spvnode/internal/spv/bloom"
	"github.com/goodnatureofminers/spvnode/internal/spv/chain"
	"github.com/goodnatureofminers/spvnode/internal/spv/chainparams"
	"github.com/goodnatureofminers/spvnode/internal/spv/coordinator"
	"github.com/goodnatureofminers/spvnode/internal/spv/p2p"
	"github.com/goodnatureofminers/spvnode/internal/spv/peerset"
	"github.com/goodnatureofminers/spvnode/internal/spv/store/badger"
	"github.com/goodnatureofminers/spvnode/internal/spv/wallet"
	walletch "github.com/goodnatureofminers/spvnode/internal/spv/wallet/clickhouse"
	walletlog "github.com/goodnatureofminers/spvnode/internal/spv/wallet/log"
)

const heartbeatInterval = 120 * time.Second

type config struct {
	DataDir       string        `long:"data-dir" env:"SPV_DATA_DIR" default:"./spv-data" description:"directory for the header database"`
	Network       string        `long:"network" env:"SPV_NETWORK" default:"mainnet" choice:"mainnet" choice:"testnet3" choice:"regtest" choice:"simnet" description:"bitcoin network to sync"`
	Seeds         []string      `long:"seed" env:"SPV_SEEDS" env-delim:"," description:"seed peer address (host:port); repeatable" required:"true"`
	DialWorkers   int           `long:"dial-workers" env:"SPV_DIAL_WORKERS" default:"8" description:"concurrent seed dial attempts"`
	FastCatchup   string        `long:"fast-catchup" env:"SPV_FAST_CATCHUP" description:"RFC3339 wallet birthday; blocks older than this are not downloaded (default: now)"`
	Watch         []string      `long:"watch" env:"SPV_WATCH" env-delim:"," description:"hex data element to add to the bloom filter; repeatable"`
	WatchAddrs    []string      `long:"watch-address" env:"SPV_WATCH_ADDRS" env-delim:"," description:"bitcoin address to watch; repeatable"`
	FalsePositive float64       `long:"false-positive-rate" env:"SPV_FALSE_POSITIVE_RATE" default:"0.0001" description:"bloom filter false-positive rate"`
	ClickhouseDSN string        `long:"clickhouse-dsn" env:"SPV_CLICKHOUSE_DSN" description:"optional ClickHouse DSN for the durable wallet sink"`
	FlushInterval time.Duration `long:"flush-interval" env:"SPV_FLUSH_INTERVAL" default:"2s" description:"wallet sink batch flush interval"`
	MetricsAddr   string        `long:"metrics-addr" env:"SPV_METRICS_ADDR" default:":2112" description:"address for metrics server"`
	EventBuffer   int           `long:"event-buffer" env:"SPV_EVENT_BUFFER" default:"256" description:"peer event channel depth"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("spv node failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	params, err := networkParams(cfg.Network)
	if err != nil {
		return err
	}

	fastCatchup := time.Now()
	if cfg.FastCatchup != "" {
		fastCatchup, err = time.Parse(time.RFC3339, cfg.FastCatchup)
		if err != nil {
			return fmt.Errorf("parse fast-catchup: %w", err)
		}
	}

	st, err := badger.Open(badger.Config{DataDir: cfg.DataDir})
	if err != nil {
		return fmt.Errorf("open header store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("close header store", zap.Error(err))
		}
	}()

	sink, cleanup, err := buildWalletSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	headerChain := chain.New(params, st)
	registry := peerset.New()
	pool := p2p.NewPool()

	coord := coordinator.New(
		headerChain,
		registry,
		sink,
		pool,
		logger,
		metrics.NewCoordinator(),
		coordinator.Config{FastCatchup: fastCatchup},
	)
	if err := coord.Init(); err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}

	tip, err := headerChain.BestTip()
	if err != nil {
		return fmt.Errorf("best tip: %w", err)
	}
	logger.Info("header chain ready",
		zap.String("network", cfg.Network),
		zap.Uint32("tip_height", tip.Height),
		zap.Stringer("tip_hash", tip.Hash),
	)

	peerEvents := make(chan coordinator.PeerEvent, cfg.EventBuffer)
	clientReqs := make(chan coordinator.ClientRequest, 16)

	if filter, err := buildFilter(cfg, params); err != nil {
		return err
	} else if filter != nil {
		clientReqs <- coordinator.UpdateBloomRequest{Filter: filter}
	}

	go func() {
		for {
			if err := clock.SleepWithContext(ctx, heartbeatInterval); err != nil {
				return
			}
			select {
			case clientReqs <- coordinator.HeartbeatRequest{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		if err := p2p.DialSeeds(ctx, cfg.Seeds, cfg.DialWorkers, params, int32(tip.Height), registry, pool, peerEvents, logger); err != nil {
			logger.Error("seed dialing aborted", zap.Error(err))
		}
	}()

	return coord.Run(ctx, peerEvents, clientReqs)
}

func networkParams(name string) (chainparams.Params, error) {
	switch name {
	case "mainnet":
		return chainparams.MainNet(), nil
	case "testnet3":
		return chainparams.TestNet3(), nil
	case "regtest":
		return chainparams.RegressionNet(), nil
	case "simnet":
		return chainparams.SimNet(), nil
	default:
		return chainparams.Params{}, fmt.Errorf("unknown network %q", name)
	}
}

// buildFilter assembles the initial bloom filter from the watched
// addresses and raw data elements, or returns nil when none are configured
// (the node then syncs headers only until a filter arrives).
func buildFilter(cfg config, params chainparams.Params) (*bloom.Filter, error) {
	n := len(cfg.Watch) + len(cfg.WatchAddrs)
	if n == 0 {
		return nil, nil
	}
	f := bloom.New(uint(n), cfg.FalsePositive, 0, wire.BloomUpdateAll)
	for _, w := range cfg.Watch {
		data, err := hex.DecodeString(strings.TrimPrefix(w, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode watch element %q: %w", w, err)
		}
		f.Add(data)
	}
	for _, a := range cfg.WatchAddrs {
		addr, err := btcutil.DecodeAddress(a, params.Params)
		if err != nil {
			return nil, fmt.Errorf("decode watch address %q: %w", a, err)
		}
		f.Add(addr.ScriptAddress())
	}
	return f, nil
}

// buildWalletSink composes the logging sink with the optional ClickHouse
// repository; the returned cleanup stops the repository's flush loops.
func buildWalletSink(ctx context.Context, cfg config, logger *zap.Logger) (wallet.Sink, func(), error) {
	sinks := wallet.Multi{walletlog.New(logger)}
	cleanup := func() {}

	if cfg.ClickhouseDSN != "" {
		repo, err := walletch.NewRepository(walletch.Config{
			DSN:           cfg.ClickhouseDSN,
			FlushInterval: cfg.FlushInterval,
		}, logger, metrics.NewWalletRepository())
		if err != nil {
			return nil, nil, fmt.Errorf("init wallet repository: %w", err)
		}
		repo.Start(ctx)
		sinks = append(sinks, repo)
		cleanup = func() {
			repo.Stop()
			if err := repo.Close(); err != nil {
				logger.Error("close wallet repository", zap.Error(err))
			}
		}
	}

	return sinks, cleanup, nil
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
