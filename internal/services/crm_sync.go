// Package services – CRM dispatcher
//
// CRMDispatcher pushes account snapshots and named events to the CRM outside
// of any request transaction. Callers enqueue jobs and return immediately; a
// fixed pool of workers performs the calls and publishes every outcome on a
// results channel. A single recorder goroutine drains that channel and
// persists contact ids, so CRM failures never reach the caller's rollback.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/chatdys-backend/internal/config"
	"github.com/tbourn/chatdys-backend/internal/crm"
	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/observability"
	"github.com/tbourn/chatdys-backend/internal/repo"
)

// CRM job kinds.
const (
	CRMContact = "contact"
	CRMEvent   = "event"
)

// ContactSyncer is the CRM client contract (implemented by *crm.Client).
type ContactSyncer interface {
	Enabled() bool
	UpsertContact(ctx context.Context, email string, props map[string]string) (string, error)
	TrackEvent(ctx context.Context, email, name string, props map[string]string) error
}

// CRMQueue accepts fire-and-forget sync jobs.
type CRMQueue interface {
	Enqueue(job CRMJob) bool
}

// CRMJob is one unit of CRM work.
type CRMJob struct {
	Kind      string
	AccountID string
	Email     string
	Props     map[string]string
	EventName string
}

// CRMResult is the outcome of one job.
type CRMResult struct {
	Job       CRMJob
	ContactID string
	Err       error
	At        time.Time
}

// ContactJob snapshots the account's CRM properties.
func ContactJob(a *domain.Account) CRMJob {
	return CRMJob{Kind: CRMContact, AccountID: a.ID, Email: a.Email, Props: crm.ContactProperties(a)}
}

// EventJob builds a named event for the account.
func EventJob(a *domain.Account, name string, props map[string]string) CRMJob {
	return CRMJob{Kind: CRMEvent, AccountID: a.ID, Email: a.Email, EventName: name, Props: props}
}

// CRMDispatcher runs CRM jobs on a bounded worker pool.
type CRMDispatcher struct {
	Client  ContactSyncer
	DB      *gorm.DB
	Workers int
	Timeout time.Duration

	// OnResult, when set, is called by the recorder after persisting a result.
	OnResult func(CRMResult)

	jobs    chan CRMJob
	results chan CRMResult

	mu      sync.RWMutex
	closed  bool
	started bool
	workers sync.WaitGroup
	rec     sync.WaitGroup
}

// NewCRMDispatcher sizes the queues from configuration. Call Start before use.
func NewCRMDispatcher(client ContactSyncer, db *gorm.DB, cfg config.HubSpotConfig) *CRMDispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	return &CRMDispatcher{
		Client:  client,
		DB:      db,
		Workers: workers,
		Timeout: cfg.Timeout,
		jobs:    make(chan CRMJob, size),
		results: make(chan CRMResult, size),
	}
}

// Enabled reports whether a configured client is attached.
func (d *CRMDispatcher) Enabled() bool {
	return d != nil && d.Client != nil && d.Client.Enabled()
}

// Start launches the workers and the recorder. ctx bounds recorder writes
// only; Close drains and stops everything.
func (d *CRMDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i := 0; i < d.Workers; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range d.jobs {
				d.results <- d.run(context.WithoutCancel(ctx), job)
			}
		}()
	}

	d.rec.Add(1)
	go func() {
		defer d.rec.Done()
		for res := range d.results {
			d.record(context.WithoutCancel(ctx), res)
		}
	}()
}

// Enqueue schedules job without blocking. It returns false when the job was
// not accepted (disabled, closed or queue full).
func (d *CRMDispatcher) Enqueue(job CRMJob) bool {
	if !d.Enabled() {
		observability.CRMSync.WithLabelValues(job.Kind, "disabled").Inc()
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || !d.started {
		observability.CRMSync.WithLabelValues(job.Kind, "dropped").Inc()
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		observability.CRMSync.WithLabelValues(job.Kind, "dropped").Inc()
		log.Warn().Str("kind", job.Kind).Str("account_id", job.AccountID).Msg("crm queue full; job dropped")
		return false
	}
}

// SyncNow runs job on the caller's goroutine and returns its result. The
// result is recorded the same way as a queued job.
func (d *CRMDispatcher) SyncNow(ctx context.Context, job CRMJob) CRMResult {
	if !d.Enabled() {
		observability.CRMSync.WithLabelValues(job.Kind, "disabled").Inc()
		return CRMResult{Job: job, Err: ErrCRMNotConfigured, At: time.Now().UTC()}
	}
	res := d.run(ctx, job)

	d.mu.RLock()
	queued := false
	if d.started && !d.closed {
		select {
		case d.results <- res:
			queued = true
		default:
		}
	}
	d.mu.RUnlock()
	if !queued {
		d.record(ctx, res)
	}
	return res
}

// Close stops accepting jobs, waits for in-flight jobs and drains results.
func (d *CRMDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.jobs)
	d.mu.Unlock()

	if !started {
		return
	}
	d.workers.Wait()
	close(d.results)
	d.rec.Wait()
}

func (d *CRMDispatcher) run(ctx context.Context, job CRMJob) CRMResult {
	res := CRMResult{Job: job}
	if job.Email == "" {
		res.Err = ErrCRMMissingEmail
		res.At = time.Now().UTC()
		return res
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	switch job.Kind {
	case CRMEvent:
		res.Err = d.Client.TrackEvent(ctx, job.Email, job.EventName, job.Props)
	default:
		res.ContactID, res.Err = d.Client.UpsertContact(ctx, job.Email, job.Props)
	}
	res.At = time.Now().UTC()
	return res
}

// record persists a successful contact sync and counts every outcome.
func (d *CRMDispatcher) record(ctx context.Context, res CRMResult) {
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
		log.Warn().Err(res.Err).
			Str("kind", res.Job.Kind).
			Str("account_id", res.Job.AccountID).
			Str("event", res.Job.EventName).
			Msg("crm sync failed")
	}
	observability.CRMSync.WithLabelValues(res.Job.Kind, outcome).Inc()

	if res.Err == nil && res.Job.Kind == CRMContact && res.Job.AccountID != "" && res.ContactID != "" && d.DB != nil {
		if err := repo.MarkHubSpotSynced(ctx, d.DB, res.Job.AccountID, res.ContactID, res.At); err != nil {
			log.Error().Err(err).Str("account_id", res.Job.AccountID).Msg("persist crm contact id")
		}
	}
	if d.OnResult != nil {
		d.OnResult(res)
	}
}
