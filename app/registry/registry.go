// Package registry implements the permit board operations: status, config update, open and close.
// Every operation loads the document from the store, mutates it and saves it back under a single
// mutex, so concurrent requests are applied one at a time and reads never overlap a write.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/permits/app/history"
	"github.com/umputun/permits/app/permit"
)

// Store loads and saves the board document
type Store interface {
	Load() permit.Document
	Save(doc *permit.Document) error
}

// Recorder keeps the audit log of changes
type Recorder interface {
	Record(ctx context.Context, evt history.Event) error
}

// Registry serializes all document operations
type Registry struct {
	store    Store
	recorder Recorder // optional
	now      func() time.Time
	mu       sync.Mutex
}

// New makes a Registry. Recorder can be nil if history is disabled.
func New(store Store, recorder Recorder) *Registry {
	return &Registry{store: store, recorder: recorder, now: time.Now}
}

// Status returns the current document
func (r *Registry) Status() permit.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Load()
}

// Summary returns the board summary at the current time
func (r *Registry) Summary() permit.Summary {
	doc := r.Status()
	return doc.Summarize(r.now())
}

// SetConfig updates the overdue threshold. The value must be coercible to an integer and is clamped.
func (r *Registry) SetConfig(ctx context.Context, raw []byte) (permit.Document, error) {
	minutes, err := permit.ParseMinutes(raw)
	if err != nil {
		log.Printf("[DEBUG] rejected overdue minutes %q: %v", string(raw), err)
		return permit.Document{}, permit.Validationf("invalid overdueMinutes")
	}
	minutes = permit.ClampMinutes(minutes)

	r.mu.Lock()
	doc := r.store.Load()
	doc.OverdueMinutes = minutes
	err = r.store.Save(&doc)
	r.mu.Unlock()
	if err != nil {
		return permit.Document{}, fmt.Errorf("failed to save config: %w", err)
	}

	log.Printf("[INFO] overdue threshold set to %d minutes", minutes)
	r.record(ctx, history.ConfigEvent(minutes))
	return doc, nil
}

// Open adds a new job at the head of the list. An inline threshold is applied when well-formed
// and silently ignored otherwise. Fails with ValidationError for bad payloads and ConflictError
// when a job for the same department, work point and risk type is already open.
func (r *Registry) Open(ctx context.Context, req permit.OpenRequest) (permit.Document, error) {
	r.mu.Lock()
	doc := r.store.Load()

	if req.HasOverdueMinutes() {
		if m, err := permit.ParseMinutes(req.OverdueMinutes); err == nil {
			doc.OverdueMinutes = permit.ClampMinutes(m)
		} else {
			log.Printf("[DEBUG] ignored inline overdue minutes %q: %v", string(req.OverdueMinutes), err)
		}
	}

	risk, dept, err := req.Validate()
	if err != nil {
		r.mu.Unlock()
		return permit.Document{}, err
	}

	if existing, found := doc.FindConflict(dept, risk, req.Point); found {
		r.mu.Unlock()
		log.Printf("[INFO] rejected duplicate %s job at %s/%q, open as %s", risk, dept, req.Point, existing.ID)
		return permit.Document{}, &permit.ConflictError{
			Msg: "duplicate: only one open job per risk type for the same department and work point"}
	}

	id := string(req.ID)
	if id == "" {
		id = r.generateID(doc)
	}
	job := req.Job(id, risk, dept)
	doc.Jobs = append([]permit.Job{job}, doc.Jobs...)

	err = r.store.Save(&doc)
	r.mu.Unlock()
	if err != nil {
		return permit.Document{}, fmt.Errorf("failed to save opened job %s: %w", id, err)
	}

	log.Printf("[INFO] opened %s job %s at %s/%q by %q", risk, id, dept, job.Point, job.Requester)
	r.record(ctx, history.OpenedEvent(job, doc.OverdueMinutes))
	return doc, nil
}

// Close removes all jobs with the given id. Closing an unknown id is not an error.
func (r *Registry) Close(ctx context.Context, id string) (permit.Document, error) {
	if id == "" {
		return permit.Document{}, permit.Validationf("missing id")
	}

	r.mu.Lock()
	doc := r.store.Load()
	removed := doc.RemoveJobs(id)
	err := r.store.Save(&doc)
	r.mu.Unlock()
	if err != nil {
		return permit.Document{}, fmt.Errorf("failed to save closed job %s: %w", id, err)
	}

	if len(removed) == 0 {
		log.Printf("[DEBUG] close of unknown job %s", id)
		return doc, nil
	}
	for _, j := range removed {
		log.Printf("[INFO] closed %s job %s at %s/%q", j.RiskType, j.ID, j.Department, j.Point)
		r.record(ctx, history.ClosedEvent(j, doc.OverdueMinutes))
	}
	return doc, nil
}

// generateID makes an id from the current epoch milliseconds, bumped until unique in the document
func (r *Registry) generateID(doc permit.Document) string {
	ids := make(map[string]bool, len(doc.Jobs))
	for _, j := range doc.Jobs {
		ids[j.ID] = true
	}
	ms := r.now().UnixMilli()
	for ids[strconv.FormatInt(ms, 10)] {
		ms++
	}
	return strconv.FormatInt(ms, 10)
}

// record stores event in history, failures are logged only
func (r *Registry) record(ctx context.Context, evt history.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(context.WithoutCancel(ctx), evt); err != nil {
		log.Printf("[WARN] failed to record %s event: %v", evt.Kind, err)
	}
}
