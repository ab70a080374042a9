package taskbucket

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and gauges a worker pool and claim path
// update as they run. A nil *Metrics is safe to pass around and records
// nothing; a zero-value Metrics has nil collectors and must not be used.
// Use NewMetrics to get one wired to a registry.
type Metrics struct {
	TasksClaimed   prometheus.Counter
	TasksRequeued  prometheus.Counter
	TasksFinished  prometheus.Counter
	ClaimMisses    prometheus.Counter
	WorkerSlotsBusy prometheus.Gauge
}

// NewMetrics registers the taskbucket metric set against reg and returns
// the handles. Safe to call once per process per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskbucket_tasks_claimed_total",
			Help: "Tasks successfully claimed by GetOne.",
		}),
		TasksRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskbucket_tasks_requeued_total",
			Help: "RequeueTimedOut calls that moved at least one task from the timeout subspace back to available.",
		}),
		TasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskbucket_tasks_finished_total",
			Help: "Bucket.FinishTx calls, counted once per transaction attempt.",
		}),
		ClaimMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskbucket_claim_misses_total",
			Help: "GetOne calls that found nothing claimable.",
		}),
		WorkerSlotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskbucket_worker_slots_busy",
			Help: "Worker slots currently running a task in Run's slot loop.",
		}),
	}
	reg.MustRegister(m.TasksClaimed, m.TasksRequeued, m.TasksFinished, m.ClaimMisses, m.WorkerSlotsBusy)
	return m
}

func (m *Metrics) observeClaim(task *Task) {
	if m == nil {
		return
	}
	if task == nil {
		m.ClaimMisses.Inc()
		return
	}
	m.TasksClaimed.Inc()
}

func (m *Metrics) observeRequeue(moved bool) {
	if m == nil || !moved {
		return
	}
	m.TasksRequeued.Inc()
}

func (m *Metrics) observeFinish() {
	if m == nil {
		return
	}
	m.TasksFinished.Inc()
}
