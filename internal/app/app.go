package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"tokenscope/internal/alerting"
	"tokenscope/internal/cache"
	"tokenscope/internal/cashout"
	"tokenscope/internal/config"
	"tokenscope/internal/fetcher"
	"tokenscope/internal/metrics"
	"tokenscope/internal/report"
	"tokenscope/internal/scheduler"
	"tokenscope/internal/service"
	"tokenscope/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newTerminal() *fetcher.Terminal {
	eth := a.Config.Ethereum
	return fetcher.NewTerminal(fetcher.TerminalOptions{
		RPCURL:          eth.RPCURL,
		StoreAddress:    eth.TerminalStoreAddress,
		TerminalAddress: eth.TerminalAddress,
		TokenAddress:    eth.TokenAddress,
		Timeout:         eth.RequestTimeout,
	}, a.Logger)
}

func (a *App) newPrice() *fetcher.Price {
	p := a.Config.Price
	return fetcher.NewPrice(fetcher.PriceOptions{
		BaseURL:    p.BaseURL,
		Asset:      p.Asset,
		VsCurrency: p.VsCurrency,
		Timeout:    p.RequestTimeout,
		UserAgent:  p.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var notifiers alerting.Multi
	for _, channel := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "telegram":
			cfg := a.Config.Alerting.Telegram
			if !cfg.Enabled {
				continue
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unsupported alert channel ignored")
		}
	}
	switch len(notifiers) {
	case 0:
		return nil
	case 1:
		return notifiers[0]
	default:
		return notifiers
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) openCache(ctx context.Context) (cache.Cache, func(), error) {
	cfg := a.Config.Cache
	switch strings.ToLower(cfg.Backend) {
	case config.CacheBackendRedis:
		r, err := cache.NewRedis(ctx, cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "", config.CacheBackendNone:
		return nil, func() {}, nil
	default:
		return cache.NewMemory(), func() {}, nil
	}
}

// newReader builds the report reader and returns a closer for its cache and pool.
func (a *App) newReader(ctx context.Context, store *storage.Store, m *metrics.Metrics) (*report.Reader, func(), error) {
	c, closeCache, err := a.openCache(ctx)
	if err != nil {
		return nil, nil, err
	}
	pool := pond.NewPool(8, pond.WithQueueSize(64))

	reader := report.NewReader(report.StoresFrom(store), report.Options{
		Fees:    cashout.Fees{SecondaryFeePercent: a.Config.Fees.SecondaryFee},
		Memo:    cache.NewMemo(c, a.Config.Cache.TTL, a.Logger, m),
		Pool:    pool,
		Metrics: m,
	}, a.Logger)

	closer := func() {
		pool.StopAndWait()
		closeCache()
	}
	return reader, closer, nil
}

// Run executes the long-running watch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.Default()
	reader, closeReader, err := a.newReader(ctx, store, m)
	if err != nil {
		return err
	}
	defer closeReader()

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		stop := a.serveMetrics(addr)
		defer stop()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := a.newNotifier()
	if a.Config.Alerting.Enabled && notifier == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured; changes will only be logged")
	}

	svc := service.New(a.Config, service.Deps{
		Scheduler:  sched,
		Reports:    reader,
		Expirer:    reader,
		Projects:   store,
		AlertStore: store,
		Locker:     store,
		Notifier:   notifier,
		Metrics:    m,
	}, a.Logger)

	a.Logger.Info().Int("projects", len(a.Config.Projects)).Msg("starting watch service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

func (a *App) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// ProjectOptions select a deployment.
type ProjectOptions struct {
	ChainID   int64
	ProjectID int64
}

// ExportOptions hold parameters for exporting a report series.
type ExportOptions struct {
	ProjectOptions
	Series    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Horizon   time.Duration
}

// ShowOptions configure the show command.
type ShowOptions struct {
	ProjectOptions
	Horizon time.Duration
	Live    bool
	Alerts  int
}
