package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/core/events"
	"slidingoracle/native/twap"
	"slidingoracle/observability"
	"slidingoracle/observability/logging"
	telemetry "slidingoracle/observability/otel"
	"slidingoracle/services/twapd/adapters"
	"slidingoracle/services/twapd/config"
	"slidingoracle/services/twapd/feeconfig"
	"slidingoracle/services/twapd/keeper"
	"slidingoracle/services/twapd/server"
	"slidingoracle/services/twapd/storage"
	"slidingoracle/services/twapd/treasury"
	kvstore "slidingoracle/storage"
)

type observationJournal interface {
	twap.Journal
	LoadObservations(ctx context.Context) ([]twap.SlotRecord, error)
}

func main() {
	var (
		cfgPath string
		dbPath  string
	)
	flag.StringVar(&cfgPath, "config", "services/twapd/config.yaml", "path to twapd configuration file")
	flag.StringVar(&dbPath, "database", "", "override the configured database path")
	flag.Parse()

	cfg, err := config.Load(cfgPath, config.WithDatabasePath(dbPath))
	if err != nil {
		log.Fatalf("twapd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("TWAP_ENV"))
	logger := logging.SetupWithOptions("twapd", env, logging.Options{File: cfg.LogFile})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("twapd", env))
	if err != nil {
		log.Fatalf("twapd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("twapd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("twapd: open storage: %v", err)
	}
	defer store.Close()

	var journal observationJournal = store
	if strings.EqualFold(strings.TrimSpace(cfg.Journal.Backend), "leveldb") {
		kv, err := kvstore.NewLevelDB(cfg.Journal.Path)
		if err != nil {
			log.Fatalf("twapd: open leveldb journal: %v", err)
		}
		defer kv.Close()
		journal = kvstore.NewObservationJournal(kv)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("building price source", slog.String("type", cfg.Source.Type), logging.EndpointAttr("endpoint", cfg.Source.Endpoint))
	dialCtx, cancelDial := context.WithTimeout(rootCtx, cfg.Source.Timeout.Duration)
	source, err := adapters.NewRegistry().Build(dialCtx, cfg.Source.Type, cfg.Source.Endpoint, cfg.Source.Prices)
	cancelDial()
	if err != nil {
		log.Fatalf("twapd: build price source: %v", err)
	}

	resolver := twap.NewV2Resolver(common.HexToAddress(cfg.Oracle.Factory), common.HexToHash(cfg.Oracle.InitCodeHash))

	oracleCfg := twap.Config{
		WindowSize:              cfg.Oracle.WindowSeconds(),
		Granularity:             cfg.Oracle.Granularity,
		PercentIncentivePerCall: uint256.MustFromDecimal(cfg.Oracle.IncentivePercent),
	}
	opts := []twap.Option{
		twap.WithJournal(journal),
		twap.WithEmitter(events.Fanout{events.LogEmitter{Logger: log.Default()}, observability.Events()}),
	}
	if cfg.Oracle.IncentivizedPair != "" {
		oracleCfg.IncentivizedPair = common.HexToAddress(cfg.Oracle.IncentivizedPair)
		oracleCfg.Treasury = common.HexToAddress(cfg.Oracle.Treasury)
		ledger, err := treasury.New(store, common.HexToAddress(cfg.Oracle.IncentiveToken), oracleCfg.Treasury, oracleCfg.IncentivizedPair)
		if err != nil {
			log.Fatalf("twapd: treasury: %v", err)
		}
		if cfg.Treasury.InitialBalance != "" {
			seeded, err := ledger.SeedIfEmpty(rootCtx, uint256.MustFromDecimal(cfg.Treasury.InitialBalance))
			if err != nil {
				log.Fatalf("twapd: seed treasury: %v", err)
			}
			if seeded {
				log.Printf("twapd: treasury %s seeded with %s", oracleCfg.Treasury.Hex(), cfg.Treasury.InitialBalance)
			}
		}
		opts = append(opts, twap.WithIncentiveToken(ledger))
	}

	oracle, err := twap.New(oracleCfg, source, resolver, opts...)
	if err != nil {
		log.Fatalf("twapd: oracle: %v", err)
	}
	records, err := journal.LoadObservations(rootCtx)
	if err != nil {
		log.Fatalf("twapd: load observations: %v", err)
	}
	for _, rec := range records {
		if err := oracle.Restore(rec.Pair, rec.Slot, rec.Observation); err != nil {
			log.Printf("twapd: skip journaled observation: %v", err)
		}
	}
	log.Printf("twapd: restored %d observations from %s journal", len(records), cfg.Journal.Backend)

	pairs := make([]keeper.Pair, 0, len(cfg.Keeper.Pairs))
	for _, p := range cfg.Keeper.Pairs {
		pairs = append(pairs, keeper.Pair{TokenA: common.HexToAddress(p.TokenA), TokenB: common.HexToAddress(p.TokenB)})
	}
	tracked, err := trackedPairs(resolver, pairs, cfg.Source.Prices, oracleCfg.IncentivizedPair)
	if err != nil {
		log.Fatalf("twapd: tracked pairs: %v", err)
	}

	if cfg.Keeper.Enabled {
		k, err := keeper.New(oracle, resolver, common.HexToAddress(cfg.Keeper.Caller), pairs, cfg.Keeper.Interval.Duration)
		if err != nil {
			log.Fatalf("twapd: keeper: %v", err)
		}
		go func() {
			if err := k.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("twapd: keeper exited: %v", err)
				stop()
			}
		}()
	}

	serverOpts := []server.Option{server.WithHealthCheck(store)}
	if cfg.Fees.Enabled {
		service, err := feeconfig.NewHTTPConfigService(cfg.Fees.Endpoint, cfg.Fees.Token, cfg.Source.Timeout.Duration)
		if err != nil {
			log.Fatalf("twapd: fee config service: %v", err)
		}
		updater, err := feeconfig.New(oracle, service,
			common.HexToAddress(cfg.Fees.StableToken),
			common.HexToAddress(cfg.Fees.FeeToken),
			feeconfig.Amounts{
				Draft:  uint256.MustFromDecimal(cfg.Fees.Amounts["draft"]),
				Settle: uint256.MustFromDecimal(cfg.Fees.Amounts["settle"]),
				Appeal: uint256.MustFromDecimal(cfg.Fees.Amounts["appeal"]),
			},
			feeconfig.WithRecorder(store),
		)
		if err != nil {
			log.Fatalf("twapd: fee updater: %v", err)
		}
		logger.Info("fee updater enabled", logging.EndpointAttr("endpoint", cfg.Fees.Endpoint))
		go func() {
			if err := updater.Run(rootCtx, cfg.Fees.Interval.Duration); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("twapd: fee updater exited: %v", err)
			}
		}()
		serverOpts = append(serverOpts, server.WithFeeRefresher(updater))
	}

	authenticator, err := server.NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		log.Fatalf("twapd: configure admin auth: %v", err)
	}
	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Pairs:         tracked,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, oracle, log.Default(), authenticator, serverOpts...)
	if err != nil {
		log.Fatalf("twapd: server: %v", err)
	}

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("twapd: http server error: %v", err)
		os.Exit(1)
	}
}

// trackedPairs collects the pairs public update requests may name: the keeper
// pairs, the static source's priced pairs and the incentivized pair.
func trackedPairs(resolver *twap.V2Resolver, pairs []keeper.Pair, prices map[string]string, incentivized common.Address) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	out := make([]common.Address, 0, len(pairs)+len(prices)+1)
	add := func(pair common.Address) {
		if pair == (common.Address{}) {
			return
		}
		if _, ok := seen[pair]; ok {
			return
		}
		seen[pair] = struct{}{}
		out = append(out, pair)
	}
	for _, p := range pairs {
		pair, err := resolver.PairFor(p.TokenA, p.TokenB)
		if err != nil {
			return nil, fmt.Errorf("resolve %s/%s: %w", p.TokenA.Hex(), p.TokenB.Hex(), err)
		}
		add(pair)
	}
	for raw := range prices {
		if common.IsHexAddress(raw) {
			add(common.HexToAddress(raw))
		}
	}
	add(incentivized)
	return out, nil
}
