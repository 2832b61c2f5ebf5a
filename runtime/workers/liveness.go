package workers

import (
	"agent-town/contract"
	"context"
	"log/slog"
	"time"
)

// Evictor is the membership-removal path shared with explicit leave and
// offline handling; observers cannot tell a timeout from a leave by the
// resulting state change.
type Evictor interface {
	Evict(agentID string)
}

// LivenessWorker periodically sweeps the heartbeat table and evicts agents
// whose last heartbeat exceeds the timeout. The broker's last-will covers
// most disconnects; the sweep is the safety net for clients that die
// without one.
type LivenessWorker struct {
	log      *slog.Logger
	registry contract.IRegistry
	evictor  Evictor
	interval time.Duration
	timeout  time.Duration
}

func NewLivenessWorker(log *slog.Logger, registry contract.IRegistry, evictor Evictor,
	interval, timeout time.Duration) *LivenessWorker {
	return &LivenessWorker{
		log:      log,
		registry: registry,
		evictor:  evictor,
		interval: interval,
		timeout:  timeout,
	}
}

func (w *LivenessWorker) Run(ctx context.Context) error {
	w.log.Info("Starting liveness sweep", "interval", w.interval, "timeout", w.timeout)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(time.Now())
		}
	}
}

// Sweep evicts every agent expired at the given instant. The expired set
// is one consistent snapshot; concurrent heartbeat updates are last-write-
// wins per agent and at worst defer an eviction to the next sweep.
func (w *LivenessWorker) Sweep(now time.Time) {
	for _, agentID := range w.registry.ExpiredAgents(now, w.timeout) {
		w.evictor.Evict(agentID)
	}
}
