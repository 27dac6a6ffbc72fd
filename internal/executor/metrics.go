package executor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus surface for the executor subsystem:
// per-executor task counters, a latency histogram, and a queue-depth
// gauge sampled from CurrentTaskNum, one vector per concern labeled by
// executor name.
type Metrics struct {
	tasksExecuted *prometheus.CounterVec
	tasksDropped  *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
}

// NewMetrics constructs and registers the executor metric vectors against
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with the
// global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasksExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coremesh",
			Subsystem: "executor",
			Name:      "tasks_executed_total",
			Help:      "Tasks that completed (including panics recovered) per executor.",
		}, []string{"executor"}),
		tasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coremesh",
			Subsystem: "executor",
			Name:      "tasks_dropped_total",
			Help:      "Tasks dropped due to queue overload per executor.",
		}, []string{"executor"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coremesh",
			Subsystem: "executor",
			Name:      "task_duration_seconds",
			Help:      "Task execution latency per executor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"executor"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "coremesh",
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Current pending task count per executor.",
		}, []string{"executor"}),
	}
	reg.MustRegister(m.tasksExecuted, m.tasksDropped, m.taskDuration, m.queueDepth)
	return m
}

// dropCounter is implemented by the concrete pool/guard/time-wheel
// executors so instrumented can surface their backpressure drop count
// without widening the public Executor interface for it.
type dropCounter interface {
	droppedTasks() uint64
}

// instrumented wraps any Executor to record task counts/latency around
// Execute/ExecuteAt and sample queue depth after each call, without any
// concrete executor needing to know Metrics exists.
type instrumented struct {
	Executor
	metrics     *Metrics
	lastDropped uint64
}

func (i *instrumented) Execute(task func()) {
	if i.metrics == nil {
		i.Executor.Execute(task)
		return
	}
	name := i.Executor.Name()
	i.Executor.Execute(func() {
		start := time.Now()
		defer func() {
			i.metrics.taskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			i.metrics.tasksExecuted.WithLabelValues(name).Inc()
		}()
		task()
	})
	i.metrics.queueDepth.WithLabelValues(name).Set(float64(i.Executor.CurrentTaskNum()))
	i.syncDropped(name)
}

// droppedTasks forwards the wrapped executor's drop count so instrumented
// still satisfies dropCounter for Manager.Snapshot.
func (i *instrumented) droppedTasks() uint64 {
	if dc, ok := i.Executor.(dropCounter); ok {
		return dc.droppedTasks()
	}
	return 0
}

func (i *instrumented) syncDropped(name string) {
	dc, ok := i.Executor.(dropCounter)
	if !ok {
		return
	}
	current := dc.droppedTasks()
	if current > i.lastDropped {
		i.metrics.tasksDropped.WithLabelValues(name).Add(float64(current - i.lastDropped))
		i.lastDropped = current
	}
}

func (i *instrumented) ExecuteAt(tp time.Time, task func()) {
	if i.metrics == nil {
		i.Executor.ExecuteAt(tp, task)
		return
	}
	name := i.Executor.Name()
	i.Executor.ExecuteAt(tp, func() {
		start := time.Now()
		defer func() {
			i.metrics.taskDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			i.metrics.tasksExecuted.WithLabelValues(name).Inc()
		}()
		task()
	})
}

func (i *instrumented) Shutdown(ctx context.Context) error {
	return i.Executor.Shutdown(ctx)
}

var _ Executor = (*instrumented)(nil)
