package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/browser"
	"github.com/pricelens/pricelens/internal/cache"
	"github.com/pricelens/pricelens/internal/config"
	"github.com/pricelens/pricelens/internal/detect"
	"github.com/pricelens/pricelens/internal/engine"
	"github.com/pricelens/pricelens/internal/events"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/notify"
	"github.com/pricelens/pricelens/internal/ratelimit"
	"github.com/pricelens/pricelens/internal/resilience"
	"github.com/pricelens/pricelens/internal/scrape"
	"github.com/pricelens/pricelens/internal/sites"
	"github.com/pricelens/pricelens/internal/store"
)

// openStore builds the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		return store.Open(ctx, "sqlite", cfg.Store.SQLitePath, nil)
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.DatabaseURL(), &store.PoolConfig{
		MaxConns: cfg.PG.MaxConns,
		MinConns: cfg.PG.MinConns,
	})
}

// openCache returns the redis chart cache, or nil when redis is not
// configured.
func openCache() *cache.Cache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		time.Duration(cfg.Redis.TTLSeconds)*time.Second)
}

// monitorEnv is everything a running engine needs, with teardown.
type monitorEnv struct {
	store   store.Store
	pool    *browser.Pool
	engine  *engine.Engine
	closers []func()
}

// Close tears components down in reverse construction order.
func (e *monitorEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initMonitor wires registry, store, browser pool, scraper, limiter,
// detector, publishers and the engine.
func initMonitor(ctx context.Context) (*monitorEnv, error) {
	env := &monitorEnv{}

	registry, err := sites.Load()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env.store = st
	env.closers = append(env.closers, func() { _ = st.Close() })

	scraper, pool, err := buildScraper(ctx, registry)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.pool = pool
	if pool != nil {
		env.closers = append(env.closers, pool.Close)
	}

	limiter := ratelimit.New(registry, ratelimit.Config{
		GlobalRPS: cfg.Scraper.GlobalRPS,
	})
	detector := detect.New(detect.Thresholds{
		MinAbsolute: cfg.PriceChange.MinAbsolute,
		MinPercent:  cfg.PriceChange.MinPercent,
		DropPercent: cfg.PriceChange.AlertDropThreshold,
		RisePercent: cfg.PriceChange.AlertIncreaseThreshold,
	})

	publisher, err := buildPublisher(env)
	if err != nil {
		env.Close()
		return nil, err
	}

	workers := cfg.Monitor.Workers
	if workers > cfg.PoolSize {
		workers = cfg.PoolSize
	}
	env.engine = engine.New(st, scraper, limiter, detector, publisher, engine.Options{
		BatchLimit:             cfg.Monitor.BatchLimit,
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		Workers:                workers,
		MinPace:                time.Duration(cfg.Scraper.MinDelayMs) * time.Millisecond,
		MaxPace:                time.Duration(cfg.Scraper.MaxDelayMs) * time.Millisecond,
		Retry:                  resilience.FromScraperConfig(cfg.Scraper.Retries, cfg.Scraper.MinDelayMs, cfg.Scraper.MaxDelayMs),
		Interval:               time.Duration(cfg.Monitor.IntervalMinutes) * time.Minute,
	})
	return env, nil
}

// buildScraper assembles the configured fetch engine. The browser pool is
// started only when the chrome engine is in play.
func buildScraper(ctx context.Context, registry *sites.Registry) (scrape.Scraper, *browser.Pool, error) {
	chromeOpts := scrape.ChromeOptions{
		NavigationTimeout: time.Duration(cfg.Scraper.TimeoutMs) * time.Millisecond,
	}
	newPool := func() (*browser.Pool, error) {
		pool := browser.NewPool(browser.Options{
			Size:           cfg.PoolSize,
			AcquireTimeout: time.Duration(cfg.Scraper.AcquireTimeoutMs) * time.Millisecond,
			Headless:       cfg.Scraper.Headless,
		})
		if err := pool.Start(ctx); err != nil {
			return nil, err
		}
		return pool, nil
	}

	switch cfg.Scraper.Engine {
	case "chrome":
		pool, err := newPool()
		if err != nil {
			return nil, nil, err
		}
		return scrape.NewChrome(pool, registry, chromeOpts), pool, nil
	case "static":
		return scrape.NewStatic(nil, registry), nil, nil
	case "chain":
		pool, err := newPool()
		if err != nil {
			return nil, nil, err
		}
		chain := scrape.NewChain(
			scrape.NewStatic(nil, registry),
			scrape.NewChrome(pool, registry, chromeOpts),
		)
		return chain, pool, nil
	default:
		return nil, nil, eris.Errorf("unknown scraper engine %q", cfg.Scraper.Engine)
	}
}

// buildPublisher combines the log sink, optional kafka sink, and the
// notification dispatcher into one fan-out.
func buildPublisher(env *monitorEnv) (events.Publisher, error) {
	sinks := []events.Publisher{events.NewLogPublisher()}

	if len(cfg.Events.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = kafka.Close() })
		sinks = append(sinks, kafka)
	}

	if dispatcher := buildDispatcher(cfg.Notify); dispatcher != nil {
		sinks = append(sinks, dispatcher)
	}
	return events.NewFanout(sinks...), nil
}

// buildDispatcher wires the configured notification channels, or returns
// nil when none are set up.
func buildDispatcher(nc config.NotifyConfig) *notify.Dispatcher {
	var channels []notify.Channel

	if nc.WebhookURL != "" {
		channels = append(channels, notify.NewWebhook(nc.WebhookURL, nil))
	}
	if nc.Telegram.Token != "" && nc.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegram(nc.Telegram.Token, nc.Telegram.ChatID)
		if err != nil {
			zap.L().Warn("telegram channel disabled", zap.Error(err))
		} else {
			channels = append(channels, tg)
		}
	}
	if nc.Email.Host != "" && len(nc.Email.To) > 0 {
		channels = append(channels, notify.NewEmail(nc.Email))
	}
	if len(channels) == 0 {
		return nil
	}
	return notify.NewDispatcher(model.ChangeSeverity(nc.MinSeverity), channels...)
}
