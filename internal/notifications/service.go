package notifications

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/workflow"
)

// Sink delivers committed workflow changes to one destination
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event workflow.Event) error
}

// DeliveryRecorder observes per-sink delivery outcomes
type DeliveryRecorder interface {
	RecordNotification(sink, outcome string)
}

// ServiceConfig contains dispatcher configuration
type ServiceConfig struct {
	QueueSize       int           `json:"queue_size"`
	Workers         int           `json:"workers"`
	DeliveryTimeout time.Duration `json:"delivery_timeout"`
}

// Service fans committed changes out to its sinks on background workers.
// Events of one task always go to the same worker, so sinks see them in
// audit sequence order. OnTransition never blocks the caller; when the
// worker's queue is full the event is dropped and counted.
type Service struct {
	sinks   []Sink
	queues  []chan workflow.Event
	timeout time.Duration
	metrics DeliveryRecorder
	logger  *zap.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewService creates and starts a notification dispatcher
func NewService(config ServiceConfig, logger *zap.Logger, metrics DeliveryRecorder, sinks ...Sink) *Service {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		sinks:   sinks,
		queues:  make([]chan workflow.Event, config.Workers),
		timeout: config.DeliveryTimeout,
		metrics: metrics,
		logger:  logger,
	}
	perWorker := (config.QueueSize + config.Workers - 1) / config.Workers
	for i := range s.queues {
		s.queues[i] = make(chan workflow.Event, perWorker)
		s.wg.Add(1)
		go s.run(s.queues[i])
	}
	return s
}

// OnTransition implements workflow.Notifier
func (s *Service) OnTransition(ctx context.Context, event workflow.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queueFor(event) <- event:
	default:
		s.logger.Warn("Notification queue full, dropping event",
			zap.String("task_id", event.Task.ID.String()),
			zap.String("action", string(event.Entry.Action)))
		s.record("queue", "dropped")
	}
}

// queueFor picks the worker queue owning event's task
func (s *Service) queueFor(event workflow.Event) chan workflow.Event {
	h := fnv.New32a()
	h.Write(event.Task.ID[:])
	return s.queues[h.Sum32()%uint32(len(s.queues))]
}

func (s *Service) run(queue <-chan workflow.Event) {
	defer s.wg.Done()
	for event := range queue {
		s.dispatch(event)
	}
}

func (s *Service) dispatch(event workflow.Event) {
	for _, sink := range s.sinks {
		// Delivery outlives the request that committed the change
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := sink.Deliver(ctx, event)
		cancel()

		if err != nil {
			s.logger.Warn("Notification delivery failed",
				zap.String("sink", sink.Name()),
				zap.String("task_id", event.Task.ID.String()),
				zap.Int64("sequence", event.Entry.Sequence),
				zap.Error(err))
			s.record(sink.Name(), "failure")
			continue
		}
		s.record(sink.Name(), "success")
	}
}

func (s *Service) record(sink, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordNotification(sink, outcome)
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for _, q := range s.queues {
			close(q)
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
}
