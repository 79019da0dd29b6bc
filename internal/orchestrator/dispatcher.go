package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TaskKind distinguishes work queue entries
type TaskKind string

const (
	TaskKindJob     TaskKind = "JOB"
	TaskKindUpgrade TaskKind = "UPGRADE"
)

// Task is a reference to a pending job or upgrade awaiting execution
type Task struct {
	Kind TaskKind
	ID   uuid.UUID
}

// Dispatcher runs jobs and upgrades on a bounded worker pool. Creation
// returns immediately with a pending record; a worker picks the task
// up and drives the state machine.
type Dispatcher struct {
	provisioner *Provisioner
	upgrader    *Upgrader
	tasks       chan Task
	workers     int
}

// NewDispatcher creates a dispatcher with the given pool size and queue depth
func NewDispatcher(provisioner *Provisioner, upgrader *Upgrader, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		provisioner: provisioner,
		upgrader:    upgrader,
		tasks:       make(chan Task, queueSize),
		workers:     workers,
	}
}

// SubmitJob queues a provisioning job for execution
func (d *Dispatcher) SubmitJob(jobID uuid.UUID) error {
	return d.submit(Task{Kind: TaskKindJob, ID: jobID})
}

// SubmitUpgrade queues a firmware upgrade for execution
func (d *Dispatcher) SubmitUpgrade(upgradeID uuid.UUID) error {
	return d.submit(Task{Kind: TaskKindUpgrade, ID: upgradeID})
}

func (d *Dispatcher) submit(task Task) error {
	select {
	case d.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start runs the worker pool until the context is cancelled. In-flight
// tasks finish; queued tasks not yet picked up stay pending in storage.
func (d *Dispatcher) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runWorker(ctx, worker)
		}(i)
	}

	log.Info().
		Int("workers", d.workers).
		Msg("Job dispatcher started")

	<-ctx.Done()
	wg.Wait()

	log.Info().Msg("Job dispatcher stopped")
	return ctx.Err()
}

func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-d.tasks:
			d.execute(ctx, worker, task)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, worker int, task Task) {
	log.Debug().
		Int("worker", worker).
		Str("kind", string(task.Kind)).
		Str("id", task.ID.String()).
		Msg("Executing task")

	// Shutdown only stops task pickup. A task already claimed runs to
	// completion on a detached context so it finalizes as completed or
	// failed on its own merits; the gateway call carries its own timeout.
	runCtx := context.WithoutCancel(ctx)

	var err error
	switch task.Kind {
	case TaskKindJob:
		err = d.provisioner.RunJob(runCtx, task.ID)
	case TaskKindUpgrade:
		err = d.upgrader.RunUpgrade(runCtx, task.ID)
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("kind", string(task.Kind)).
			Str("id", task.ID.String()).
			Msg("Task execution error")
	}
}
