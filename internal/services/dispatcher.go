package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"ridedispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrDispatchQueueFull = errors.New("dispatch queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type MatchJob struct {
	RideID   primitive.ObjectID
	RadiusKM float64
}

// Dispatcher runs matching for new rides on a fixed pool of workers.
type Dispatcher struct {
	matcher    MatchingService
	jobs       chan MatchJob
	workers    int
	jobTimeout time.Duration
	logger     *logger.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(matcher MatchingService, workers, queueSize int, log *logger.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		matcher:    matcher,
		jobs:       make(chan MatchJob, queueSize),
		workers:    workers,
		jobTimeout: 30 * time.Second,
		logger:     log.WithField("component", "dispatcher"),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.logger.WithField("workers", d.workers).Info("Dispatcher started")
}

// Enqueue never blocks. A full queue is reported to the caller; the rider's
// search retry covers the dropped job.
func (d *Dispatcher) Enqueue(job MatchJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrDispatchQueueFull
	}
}

// Stop drains queued jobs and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			d.run(ctx, worker, job)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, worker int, job MatchJob) {
	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	log := d.logger.WithRideID(job.RideID).WithField("worker", worker)
	result, err := d.matcher.MatchRide(jobCtx, job.RideID, job.RadiusKM)
	if err != nil {
		de := AsDispatchError(err)
		if de.Kind == KindInternal {
			log.WithError(err).Error("Matching failed")
		} else {
			log.WithField("code", de.Code).Info("Matching skipped")
		}
		return
	}
	log.WithField("outcome", result.Outcome).Debug("Matching finished")
}
