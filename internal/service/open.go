package service

import (
	"context"
	"fmt"
	"log"

	"PriceKeeper/internal/adjust"
	"PriceKeeper/internal/collector"
	"PriceKeeper/internal/config"
	"PriceKeeper/internal/database"
	"PriceKeeper/internal/model"
	"PriceKeeper/internal/pricesvc"
	"PriceKeeper/internal/query"
	"PriceKeeper/internal/quota"
	"PriceKeeper/internal/recorder"
	"PriceKeeper/internal/scheduler"
	"PriceKeeper/internal/splits"
	"PriceKeeper/internal/store"
)

// Open connects the database and wires every component from cfg. It seeds the split
// registry and tracks the configured symbols; it performs no upstream calls.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	db, err := database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	svc, err := build(ctx, cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, db.Close)
	return svc, nil
}

func build(ctx context.Context, cfg *config.Config, db *database.DB) (*Service, error) {
	st, err := store.New(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	rec, err := recorder.NewSQLRecorder(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("init recorder: %w", err)
	}

	seed := append(append([]model.SplitEvent{}, splits.Builtin...), cfg.Splits...)
	reg := splits.NewRegistry(st, seed...)
	n, err := reg.Seed(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed splits: %w", err)
	}
	if n > 0 {
		log.Printf("[INFO] seeded %d split events", n)
	}
	for _, s := range cfg.Symbols {
		added, err := st.TrackSymbol(ctx, s.Symbol, s.Name)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", s.Symbol, err)
		}
		if added {
			log.Printf("[INFO] tracking %s", s.Symbol)
		}
	}

	clock := scheduler.SystemClock{}
	refresher := scheduler.NewRefresher(st, reg, adjust.NewAdjuster(reg), NewFetcher(cfg),
		scheduler.NewThrottle(cfg.Provider.MinInterval, clock), clock, rec)
	var budget *quota.Manager
	if cfg.Provider.DailyBudget > 0 {
		budget, err = quota.NewManager(cfg.Provider.BudgetFile, cfg.Provider.DailyBudget)
		if err != nil {
			return nil, err
		}
		refresher.SetBudget(budget)
		log.Printf("[INFO] upstream budget: %d calls per day", cfg.Provider.DailyBudget)
	}

	return &Service{
		Store:        st,
		Registry:     reg,
		Engine:       query.NewEngine(st, query.WithConcurrency(cfg.Query.Concurrency)),
		Refresher:    refresher,
		Prices:       NewPriceLookup(cfg),
		Recorder:     rec,
		Budget:       budget,
		DefaultLimit: cfg.Query.DefaultLimit,
	}, nil
}

// NewFetcher selects the upstream provider.
func NewFetcher(cfg *config.Config) collector.Fetcher {
	if cfg.Provider.Name == config.ProviderMock {
		log.Println("[WARN] using mock provider, data is synthetic")
		return &collector.MockFetcher{Price: 100}
	}
	return collector.NewAlphaVantageFetcher(cfg.Provider.APIKey,
		collector.WithBaseURL(cfg.Provider.BaseURL),
		collector.WithTimeout(cfg.Provider.Timeout),
		collector.WithProxy(cfg.Proxy),
	)
}

// NewPriceLookup uses the price service when configured, otherwise Yahoo in-process.
func NewPriceLookup(cfg *config.Config) pricesvc.Lookup {
	if cfg.PriceService.BaseURL != "" {
		return pricesvc.NewServiceClient(cfg.PriceService.BaseURL, cfg.Proxy)
	}
	return pricesvc.NewYahooLookup(cfg.Proxy)
}
