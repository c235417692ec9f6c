// Package watcher checks open permits on a cron schedule and alerts once per overdue job
package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"github.com/umputun/permits/app/permit"
)

// StatusProvider returns the current board document
type StatusProvider interface {
	Status() permit.Document
}

// Notifier delivers overdue alerts
type Notifier interface {
	NotifyOverdue(ctx context.Context, job permit.Job, threshold int, now time.Time) error
}

// Watcher runs overdue checks
type Watcher struct {
	spec     string
	status   StatusProvider
	notifier Notifier
	dedup    *DeDup
	now      func() time.Time
	cron     *cron.Cron

	mu      sync.Mutex
	overdue []permit.Job // overdue jobs found by the last check
}

// New makes a Watcher for the cron spec, e.g. "@every 1m" or "*/5 * * * *"
func New(spec string, status StatusProvider, notifier Notifier) (*Watcher, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid watcher schedule %q: %w", spec, err)
	}
	return &Watcher{
		spec:     spec,
		status:   status,
		notifier: notifier,
		dedup:    NewDeDup(),
		now:      time.Now,
		cron:     cron.New(cron.WithParser(parser)),
	}, nil
}

// Run schedules checks and blocks until context is canceled
func (w *Watcher) Run(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.spec, func() { w.Check(ctx) }); err != nil {
		return fmt.Errorf("can't schedule overdue check: %w", err)
	}
	log.Printf("[INFO] overdue watcher started, schedule %q", w.spec)
	w.cron.Start()
	<-ctx.Done()
	<-w.cron.Stop().Done()
	log.Printf("[INFO] overdue watcher stopped")
	return ctx.Err()
}

// Check finds overdue jobs and notifies about the ones not reported yet.
// Jobs which are no longer open are forgotten, so a reopened job with the same id alerts again.
func (w *Watcher) Check(ctx context.Context) {
	doc := w.status.Status()
	now := w.now()
	overdue := doc.OverdueJobs(now)

	w.mu.Lock()
	w.overdue = overdue
	w.mu.Unlock()

	open := make([]string, 0, len(doc.Jobs))
	for _, j := range doc.Jobs {
		open = append(open, j.ID)
	}
	w.dedup.Retain(open)

	for _, j := range overdue {
		if !w.dedup.Add(j.ID) {
			continue
		}
		log.Printf("[INFO] job %s at %s/%q is overdue, threshold %dm", j.ID, j.Department, j.Point, doc.OverdueMinutes)
		if w.notifier == nil {
			continue
		}
		if err := w.notifier.NotifyOverdue(ctx, j, doc.OverdueMinutes, now); err != nil {
			log.Printf("[WARN] failed to notify about overdue job %s: %v", j.ID, err)
			w.dedup.Remove(j.ID) // retry on the next check
		}
	}
}

// Overdue returns overdue jobs found by the last check
func (w *Watcher) Overdue() []permit.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	res := make([]permit.Job, len(w.overdue))
	copy(res, w.overdue)
	return res
}
