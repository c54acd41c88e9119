// Package main is the command-line host of the virtual store. It wires the
// preferences backend, catalog, ledger, billing sandbox and event bus, and
// runs one store operation per invocation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"virtual-store/internal/billing"
	"virtual-store/internal/billing/sandbox"
	"virtual-store/internal/catalog"
	"virtual-store/internal/config"
	"virtual-store/internal/events"
	"virtual-store/internal/metrics"
	"virtual-store/internal/pkg/db"
	"virtual-store/internal/pkg/obscured"
	"virtual-store/internal/pkg/prefs"
	"virtual-store/internal/storage"
	"virtual-store/internal/store"
)

const usage = `usage: storectl [-config dir] <command> [args]

commands:
  init                 initialize the store and replay owned purchases
  buy <item> [payload] buy an item
  give <item> <amount> credit an item
  take <item> <amount> debit an item
  balance [item...]    print balances
  equip <item>         equip a good
  unequip <item>       unequip a good
  restore              restore transactions
  details [sku...]     fetch market details
  serve                keep billing open and serve metrics until interrupted`

func main() {
	configPath := flag.String("config", "config", "directory holding config.yaml")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogger(&cfg.Log)
	log.Debug().Str("backend", cfg.Storage.Backend).Msg("Configuration loaded successfully")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up store")
	}
	defer app.close()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Error().Err(err).Str("command", flag.Arg(0)).Msg("Command failed")
		app.close()
		os.Exit(1)
	}
}

func setupLogger(cfg *config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// app holds the wired store and the resources to release on exit.
type app struct {
	cfg       *config.Config
	ctrl      *store.Controller
	registry  *prometheus.Registry
	forwarder *events.KafkaForwarder
	closers   []func()
	closed    bool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	cipher, err := obscured.NewCipher(cfg.Security.Secret, cfg.App.PackageName, cfg.App.DeviceID, cfg.Security.Iterations)
	if err != nil {
		a.close()
		return nil, err
	}
	p := obscured.New(backend, cipher)

	bus := events.NewBus()
	bus.Register(events.LogSubscriber())
	bus.Register(metrics.NewCollector(a.registry).Handle)

	if len(cfg.Kafka.Brokers) > 0 {
		a.forwarder = events.NewKafkaForwarder(&cfg.Kafka, cfg.App.PackageName)
		fctx, stop := context.WithCancel(context.Background())
		a.forwarder.Start(fctx)
		bus.Register(a.forwarder.Handle)
		a.closers = append(a.closers, func() {
			a.forwarder.Close()
			stop()
		})
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Forwarding store events to kafka")
	}

	log.Debug().Int("subscribers", bus.Len()).Msg("Event bus ready")

	a.ctrl = store.New(store.Dependencies{
		Prefs:   p,
		Catalog: catalog.New(p),
		Ledger:  storage.NewLedger(p, bus),
		Billing: billing.NewService(sandbox.New()),
		Bus:     bus,
	}, store.Options{FriendlyRefunds: cfg.Store.FriendlyRefunds})
	a.closers = append(a.closers, func() {
		if err := a.ctrl.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close billing connection")
		}
	})
	return a, nil
}

// openBackend connects the configured preferences store.
func (a *app) openBackend(ctx context.Context) (prefs.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, &a.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		pg := prefs.NewPostgres(pool.Pool, a.cfg.Storage.Namespace)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close redis client")
			}
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		log.Info().Str("addr", a.cfg.Redis.Addr).Msg("Connected to Redis")
		return prefs.NewRedis(rdb, a.cfg.Storage.Namespace), nil

	default:
		log.Warn().Msg("Using in-memory preferences, nothing survives this process")
		return prefs.NewMemory(), nil
	}
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) initialize(ctx context.Context) error {
	assets := demoAssets()
	if path := a.cfg.App.AssetsFile; path != "" {
		loaded, err := catalog.LoadAssetsFile(path)
		if err != nil {
			return err
		}
		assets = loaded
	}
	return a.ctrl.Initialize(ctx, assets, a.cfg.Store.PublicKey, a.cfg.Store.CustomSecret)
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	if err := a.initialize(ctx); err != nil {
		return err
	}
	inv := a.ctrl.Inventory()

	switch cmd {
	case "init":
		log.Info().Str("state", a.ctrl.State().String()).Int("catalog_version", a.ctrl.Catalog().Version()).Msg("Store ready")
		return nil

	case "buy":
		if len(args) < 1 {
			return errors.New("buy needs an item id")
		}
		payload := ""
		if len(args) > 1 {
			payload = args[1]
		}
		if err := a.ctrl.Buy(ctx, args[0], payload); err != nil {
			return err
		}
		return a.printBalances(ctx, args[:1])

	case "give", "take":
		if len(args) != 2 {
			return fmt.Errorf("%s needs an item id and an amount", cmd)
		}
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		if cmd == "give" {
			_, err = inv.Give(ctx, args[0], amount)
		} else {
			_, err = inv.Take(ctx, args[0], amount)
		}
		if err != nil {
			return err
		}
		return a.printBalances(ctx, args[:1])

	case "balance":
		return a.printBalances(ctx, args)

	case "equip":
		if len(args) != 1 {
			return errors.New("equip needs an item id")
		}
		return inv.Equip(ctx, args[0])

	case "unequip":
		if len(args) != 1 {
			return errors.New("unequip needs an item id")
		}
		return inv.Unequip(ctx, args[0])

	case "restore":
		return a.ctrl.RestoreTransactions(ctx)

	case "details":
		return a.ctrl.QueryItemDetails(ctx, args...)

	case "serve":
		return a.serve(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) printBalances(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		for _, it := range a.ctrl.Catalog().Items() {
			ids = append(ids, it.ItemID)
		}
	}
	inv := a.ctrl.Inventory()
	for _, id := range ids {
		b, err := inv.Balance(ctx, id)
		if err != nil {
			return err
		}
		ups := a.ctrl.Catalog().UpgradesOf(id)
		if len(ups) == 0 {
			fmt.Printf("%-16s %d\n", id, b)
			continue
		}
		cur, err := inv.CurrentUpgrade(ctx, id)
		if err != nil {
			return err
		}
		level := 0
		for i, up := range ups {
			if up.ItemID == cur {
				level = i + 1
			}
		}
		fmt.Printf("%-16s %d  upgrade %d/%d\n", id, b, level, len(ups))
	}
	return nil
}

// serve keeps the billing connection open and exposes metrics until ctx is done.
func (a *app) serve(ctx context.Context) error {
	if err := a.ctrl.StartBillingInBackground(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down metrics server")
	}
	if err := a.ctrl.StopBillingInBackground(); err != nil {
		return err
	}
	log.Info().Msg("Store stopped gracefully")
	return nil
}
