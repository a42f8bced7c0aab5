package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/subcommands"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/notifier"
	"PriceKeeper/internal/scheduler"
)

type serveCmd struct{}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the daily refresh scheduler and the Telegram bot" }
func (*serveCmd) Usage() string {
	return `serve

  Refreshes stale symbols on start (schedule.run_on_start), then on the daily
  cron. Answers Telegram chat commands when a bot token is configured.
`
}
func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (*serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log.Println("[INFO] PriceKeeper starting...")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, svc, ok := openService(ctx)
	if !ok {
		return subcommands.ExitFailure
	}
	defer svc.Close()
	if err := cfg.RequireProvider(); err != nil {
		log.Printf("[ERROR] %v", err)
		return subcommands.ExitFailure
	}

	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
	sched := scheduler.NewScheduler(ctx, svc.Refresher, tn)
	if err := sched.RegisterAll(cfg.Schedule.DailyCron); err != nil {
		log.Printf("[ERROR] register cron tasks: %v", err)
		return subcommands.ExitFailure
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, svc.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	} else {
		log.Println("[WARN] telegram not configured, notifications disabled")
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	if cfg.Schedule.RunOnStart {
		log.Println("[INFO] run_on_start enabled, refreshing now")
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.RunNow(model.TriggerStartup)
		}()
	}

	log.Println("[INFO] PriceKeeper is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Println("[INFO] shutdown signal received, stopping...")
	return subcommands.ExitSuccess
}
