package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"PriceKeeper/internal/model"
	"PriceKeeper/internal/notifier"
)

// Scheduler manages the cron trigger of the daily refresh.
type Scheduler struct {
	Cron      *cron.Cron
	Refresher *Refresher
	Notifier  *notifier.TelegramNotifier // nil disables run notifications
	Ctx       context.Context
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, r *Refresher, tn *notifier.TelegramNotifier) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(cron.WithSeconds()),
		Refresher: r,
		Notifier:  tn,
		Ctx:       ctx,
	}
}

// RegisterAll registers the daily refresh task.
func (s *Scheduler) RegisterAll(dailyCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, func() { s.dailyRefresh(model.TriggerCron) }); err != nil {
		return fmt.Errorf("register daily refresh: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// RunNow executes the refresh immediately (for startup / manual trigger).
func (s *Scheduler) RunNow(trigger string) model.RunSummary {
	return s.dailyRefresh(trigger)
}

func (s *Scheduler) dailyRefresh(trigger string) model.RunSummary {
	log.Printf("[INFO] running %s refresh", trigger)
	summary, err := s.Refresher.PerformStartupRefresh(s.Ctx, trigger)
	if err != nil {
		log.Printf("[ERROR] %s refresh: %v", trigger, err)
		s.trySend(fmt.Sprintf("❌ <b>Refresh failed</b>: %s", notifier.Escape(err.Error())))
		return summary
	}
	// Quiet days (everything fresh) are not worth a message.
	if summary.UpstreamCalls > 0 || len(summary.Errors) > 0 {
		s.trySend(notifier.FormatRunSummary(summary))
	}
	return summary
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Report(s.Ctx, text); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
