package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/emna-belhajltaief/smart-task-manager/config"
	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

// ActivitySink stores or forwards one activity entry.
type ActivitySink interface {
	Record(ctx context.Context, a domain.Activity) error
}

// ActivityRecorder writes activity to its sinks on a bounded pool of
// workers so request handlers never wait on the audit trail. When the buffer
// stays full for longer than the handoff timeout the entry is written inline.
type ActivityRecorder struct {
	sinks   []ActivitySink
	logger  *log.Logger
	timeout time.Duration
	handoff time.Duration

	jobs chan domain.Activity
	wg   sync.WaitGroup
	once sync.Once
}

// NewActivityRecorder starts cfg.Workers workers draining a buffer of
// cfg.Buffer entries.
func NewActivityRecorder(cfg config.Activity, logger *log.Logger, sinks ...ActivitySink) *ActivityRecorder {
	if logger == nil {
		panic("Logger is not initialized")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	r := &ActivityRecorder{
		sinks:   sinks,
		logger:  logger,
		timeout: cfg.Timeout,
		handoff: cfg.HandoffTimeout,
		jobs:    make(chan domain.Activity, cfg.Buffer),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Infof("activity recorder started, workers: %d, buffer: %d, sinks: %d, timeout: %v, handoff: %v",
		workers, cfg.Buffer, len(sinks), cfg.Timeout, cfg.HandoffTimeout)
	return r
}

// Record queues a for every sink. Missing ids and timestamps are filled in.
func (r *ActivityRecorder) Record(a domain.Activity) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	ok, closed := r.tryEnqueue(a)
	if ok {
		return
	}
	if closed {
		r.logger.WithField("entity_id", a.EntityID).Warn("activity recorder closed; dropping entry")
		return
	}
	r.logger.Warn("activity buffer saturated; recording inline")
	r.write(-1, a)
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *ActivityRecorder) Close() {
	r.once.Do(func() {
		close(r.jobs)
	})
	r.wg.Wait()
}

func (r *ActivityRecorder) worker(id int) {
	defer r.wg.Done()
	for a := range r.jobs {
		r.write(id, a)
	}
}

func (r *ActivityRecorder) write(worker int, a domain.Activity) {
	for _, sink := range r.sinks {
		ctx := context.Background()
		cancel := func() {}
		if r.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err := sink.Record(ctx, a)
		cancel()
		if err != nil {
			r.logger.WithFields(log.Fields{
				"activity_id": a.ID,
				"user_id":     a.UserID,
				"entity_type": a.EntityType,
				"action":      a.Action,
				"worker":      worker,
			}).WithError(err).Error("record activity failed")
		}
	}
}

func (r *ActivityRecorder) tryEnqueue(a domain.Activity) (ok bool, closed bool) {
	if ok, closed = trySendNonBlocking(r.jobs, a); ok || closed {
		return ok, closed
	}
	if r.handoff <= 0 {
		return false, false
	}
	timer := time.NewTimer(r.handoff)
	defer timer.Stop()
	return sendWithTimer(r.jobs, a, timer.C)
}

func trySendNonBlocking(ch chan domain.Activity, a domain.Activity) (ok bool, closed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Activity, a domain.Activity, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- a:
		return true, false
	case <-timer:
		return false, false
	}
}
