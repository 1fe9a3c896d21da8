package resultcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"encore.dev/rlog"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"encore.app/pkg/fingerprint"
	events "encore.app/pkg/pubsub"
)

// Computer is the origin that warming tasks compute through. The cache never
// computes on its own; the forecast pipeline registers an implementation at
// startup via SetComputer.
type Computer interface {
	Compute(ctx context.Context, namespace string, input map[string]any) (*ComputedResult, error)
}

// ComputedResult is what a Computer hands back for caching. Confidence uses
// the same negative-means-unscored convention as SetRequest.
type ComputedResult struct {
	Payload    any
	Confidence float64
	Metadata   map[string]string
	TTLSeconds int
}

var (
	pendingComputerMu sync.Mutex
	pendingComputer   Computer
)

// RegisterComputer wires the compute origin for warming. Callers may register
// before the service initializes; initService picks the registration up.
func RegisterComputer(c Computer) {
	pendingComputerMu.Lock()
	pendingComputer = c
	pendingComputerMu.Unlock()

	if svc != nil {
		svc.warmer.SetComputer(c)
	}
}

func registeredComputer() Computer {
	pendingComputerMu.Lock()
	defer pendingComputerMu.Unlock()
	return pendingComputer
}

// WarmConfig holds runtime configuration for the warming pool.
type WarmConfig struct {
	Workers        int           `json:"workers"`          // concurrent warming goroutines
	QueueSize      int           `json:"queue_size"`       // buffered task queue capacity
	MaxComputeRPS  int           `json:"max_compute_rps"`  // rate limit toward the computer
	ComputeTimeout time.Duration `json:"compute_timeout"`  // per-task compute deadline
	RetryAttempts  int           `json:"retry_attempts"`   // retries on compute failure
	BackoffBase    time.Duration `json:"backoff_base"`     // base for exponential backoff
	MaxBatchSize   int           `json:"max_batch_size"`   // max inputs per Warm call
}

// DefaultWarmConfig returns sensible defaults.
func DefaultWarmConfig() WarmConfig {
	return WarmConfig{
		Workers:        8,
		QueueSize:      1000,
		MaxComputeRPS:  50,
		ComputeTimeout: 10 * time.Second,
		RetryAttempts:  2,
		BackoffBase:    100 * time.Millisecond,
		MaxBatchSize:   200,
	}
}

// WarmTask is one queued precomputation.
type WarmTask struct {
	JobID      string
	Namespace  string
	Key        string
	Input      map[string]any
	TTLSeconds int
}

// warmMetrics tracks warming pool performance.
type warmMetrics struct {
	QueuedTotal    atomic.Int64
	SuccessTotal   atomic.Int64
	FailureTotal   atomic.Int64
	RefusedTotal   atomic.Int64
	SkippedTotal   atomic.Int64 // already cached at queue time
	ComputeCalls   atomic.Int64
	TotalDuration  atomic.Int64 // cumulative milliseconds
}

// Warmer runs a fixed pool of workers that compute and admit cache entries.
// Same-key tasks are deduplicated via singleflight, and the compute origin is
// protected by a token-bucket rate limiter.
type Warmer struct {
	service   *Service
	config    WarmConfig
	computer  Computer
	mu        sync.RWMutex
	taskQueue chan WarmTask
	limiter   *rate.Limiter
	deduper   singleflight.Group
	metrics   warmMetrics
	active    atomic.Int32
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewWarmer creates the pool and starts its workers.
func NewWarmer(service *Service, config WarmConfig) *Warmer {
	w := &Warmer{
		service:   service,
		config:    config,
		taskQueue: make(chan WarmTask, config.QueueSize),
		limiter:   rate.NewLimiter(rate.Limit(config.MaxComputeRPS), config.MaxComputeRPS),
		stopChan:  make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		w.wg.Add(1)
		go w.runWorker()
	}

	return w
}

// SetComputer injects the compute origin.
func (w *Warmer) SetComputer(c Computer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.computer = c
}

func (w *Warmer) getComputer() Computer {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.computer
}

// QueueTasks adds tasks to the queue, dropping tasks when the queue is full.
func (w *Warmer) QueueTasks(tasks []WarmTask) int {
	queued := 0
	for _, task := range tasks {
		select {
		case w.taskQueue <- task:
			queued++
		default:
			// Queue full, skip this task
		}
	}
	w.metrics.QueuedTotal.Add(int64(queued))
	return queued
}

// ActiveCount returns the number of workers currently executing a task.
func (w *Warmer) ActiveCount() int {
	return int(w.active.Load())
}

// QueueSize returns the number of tasks waiting in queue.
func (w *Warmer) QueueSize() int {
	return len(w.taskQueue)
}

func (w *Warmer) runWorker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case task := <-w.taskQueue:
			w.active.Add(1)
			w.executeWithRetry(task)
			w.active.Add(-1)
		}
	}
}

// executeWithRetry runs a task, retrying compute failures with exponential
// backoff. Admission refusals are final and never retried.
func (w *Warmer) executeWithRetry(task WarmTask) {
	var lastErr error
	for attempt := 0; attempt <= w.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(w.config.BackoffBase * time.Duration(1<<uint(attempt-1)))
		}

		done, err := w.executeTask(task)
		if done {
			return
		}
		lastErr = err
	}

	w.metrics.FailureTotal.Add(1)
	w.publishCompletion(task, "failure", errReason(lastErr), 0)
}

// executeTask runs one warming attempt. Returns done=true when the task
// reached a terminal outcome (cached, refused, or unretryable).
func (w *Warmer) executeTask(task WarmTask) (done bool, err error) {
	start := time.Now()

	// Coalesce concurrent warming of the same key.
	_, err, _ = w.deduper.Do(task.Key, func() (interface{}, error) {
		return nil, w.computeAndStore(task)
	})

	duration := time.Since(start)
	w.metrics.TotalDuration.Add(duration.Milliseconds())

	switch {
	case err == nil:
		w.metrics.SuccessTotal.Add(1)
		w.publishCompletion(task, "success", "", duration)
		return true, nil
	case errors.As(err, new(*refusalError)):
		w.metrics.RefusedTotal.Add(1)
		w.metrics.FailureTotal.Add(1)
		w.publishCompletion(task, "failure", errReason(err), duration)
		return true, nil
	default:
		return false, err
	}
}

// refusalError marks an admission refusal, which is terminal.
type refusalError struct {
	reason string
}

func (e *refusalError) Error() string { return "admission refused: " + e.reason }

func errReason(err error) string {
	var refusal *refusalError
	if errors.As(err, &refusal) {
		return refusal.reason
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// computeAndStore runs the injected computer and admits the result through
// the normal Set path, so per-namespace thresholds apply to warmed entries.
func (w *Warmer) computeAndStore(task WarmTask) error {
	computer := w.getComputer()
	if computer == nil {
		return errors.New("no computer configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.config.ComputeTimeout)
	defer cancel()

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	result, err := computer.Compute(ctx, task.Namespace, task.Input)
	w.metrics.ComputeCalls.Add(1)
	if err != nil {
		return fmt.Errorf("compute failed: %w", err)
	}
	if result == nil || result.Payload == nil {
		return errors.New("computer returned no payload")
	}

	ttl := result.TTLSeconds
	if task.TTLSeconds > 0 {
		ttl = task.TTLSeconds
	}

	resp, err := w.service.Set(ctx, task.Namespace, task.Key, &SetRequest{
		Payload:    result.Payload,
		Confidence: result.Confidence,
		TTLSeconds: ttl,
		Metadata:   result.Metadata,
	})
	if err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	if !resp.Cached {
		return &refusalError{reason: resp.Reason}
	}

	return nil
}

// publishCompletion publishes a warm-completed event. Best effort.
func (w *Warmer) publishCompletion(task WarmTask, status, reason string, duration time.Duration) {
	event := &events.WarmCompletedEvent{
		Version:     events.EventVersion1,
		JobID:       task.JobID,
		Namespace:   task.Namespace,
		Key:         task.Key,
		Status:      status,
		Reason:      reason,
		DurationMs:  duration.Milliseconds(),
		TriggeredAt: time.Now(),
	}
	if _, err := WarmCompletedTopic.Publish(context.Background(), event); err != nil {
		rlog.Warn("failed to publish warm completion", "job_id", task.JobID, "err", err)
	}
}

// Shutdown gracefully stops the pool.
func (w *Warmer) Shutdown() {
	close(w.stopChan)
	w.wg.Wait()
}

// Request and response types for warming endpoints.

type WarmRequest struct {
	// Namespace the precomputed entries are stored under.
	Namespace string `json:"namespace"`

	// Inputs are the raw fingerprint inputs to precompute, one per entry.
	Inputs []map[string]any `json:"inputs"`

	// TTLSeconds overrides the namespace TTL for warmed entries. 0 keeps it.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type WarmResponse struct {
	JobID   string `json:"job_id"`
	Queued  int    `json:"queued"`
	Skipped int    `json:"skipped"` // already cached at queue time
}

type WarmStatusResponse struct {
	ActiveWorkers int                 `json:"active_workers"`
	QueuedTasks   int                 `json:"queued_tasks"`
	Metrics       WarmMetricsSnapshot `json:"metrics"`
}

type WarmMetricsSnapshot struct {
	QueuedTotal   int64   `json:"queued_total"`
	SuccessTotal  int64   `json:"success_total"`
	FailureTotal  int64   `json:"failure_total"`
	RefusedTotal  int64   `json:"refused_total"`
	SkippedTotal  int64   `json:"skipped_total"`
	ComputeCalls  int64   `json:"compute_calls"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Warm queues batch precomputation of cache entries. Keys are derived from
// the inputs by fingerprinting, inputs already cached are skipped, and
// per-item failures surface as warm-completed events rather than errors.
//encore:api public method=POST path=/cache/warm
func Warm(ctx context.Context, req *WarmRequest) (*WarmResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.Warm(ctx, req)
}

func (s *Service) Warm(ctx context.Context, req *WarmRequest) (*WarmResponse, error) {
	if req.Namespace == "" {
		return nil, errors.New("namespace cannot be empty")
	}
	if len(req.Inputs) == 0 {
		return nil, errors.New("inputs cannot be empty")
	}
	if max := s.warmer.config.MaxBatchSize; len(req.Inputs) > max {
		return nil, fmt.Errorf("batch exceeds %d inputs", max)
	}

	jobID := uuid.NewString()
	tasks := make([]WarmTask, 0, len(req.Inputs))
	skipped := 0

	for _, input := range req.Inputs {
		key, err := fingerprint.Fingerprint(req.Namespace, input)
		if err != nil {
			return nil, fmt.Errorf("unfingerprintable input: %w", err)
		}

		if _, ok := s.store.Get(req.Namespace, key); ok {
			skipped++
			s.warmer.metrics.SkippedTotal.Add(1)
			continue
		}

		tasks = append(tasks, WarmTask{
			JobID:      jobID,
			Namespace:  req.Namespace,
			Key:        key,
			Input:      input,
			TTLSeconds: req.TTLSeconds,
		})
	}

	queued := s.warmer.QueueTasks(tasks)

	rlog.Info("warm job queued", "job_id", jobID,
		"namespace", req.Namespace, "queued", queued, "skipped", skipped)

	return &WarmResponse{JobID: jobID, Queued: queued, Skipped: skipped}, nil
}

// WarmStatus reports warming pool activity and counters.
//encore:api public method=GET path=/cache/warm/status
func WarmStatus(ctx context.Context) (*WarmStatusResponse, error) {
	if svc == nil {
		return nil, errors.New("service not initialized")
	}
	return svc.WarmStatus(ctx)
}

func (s *Service) WarmStatus(ctx context.Context) (*WarmStatusResponse, error) {
	m := &s.warmer.metrics

	success := m.SuccessTotal.Load()
	failure := m.FailureTotal.Load()
	completed := success + failure

	successRate := 0.0
	if completed > 0 {
		successRate = float64(success) / float64(completed)
	}

	avgDuration := 0.0
	if completed > 0 {
		avgDuration = float64(m.TotalDuration.Load()) / float64(completed)
	}

	return &WarmStatusResponse{
		ActiveWorkers: s.warmer.ActiveCount(),
		QueuedTasks:   s.warmer.QueueSize(),
		Metrics: WarmMetricsSnapshot{
			QueuedTotal:   m.QueuedTotal.Load(),
			SuccessTotal:  success,
			FailureTotal:  failure,
			RefusedTotal:  m.RefusedTotal.Load(),
			SkippedTotal:  m.SkippedTotal.Load(),
			ComputeCalls:  m.ComputeCalls.Load(),
			SuccessRate:   successRate,
			AvgDurationMs: avgDuration,
		},
	}, nil
}
