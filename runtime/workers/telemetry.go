package workers

import (
	"agent-town/contract"
	"agent-town/wire"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// TelemetryWorker publishes the backend's own health (CPU, RSS, status) as
// a retained message so late subscribers see the current state without a
// query.
type TelemetryWorker struct {
	log       *slog.Logger
	transport contract.Transport
	interval  time.Duration
}

func NewTelemetryWorker(log *slog.Logger, transport contract.Transport, interval time.Duration) *TelemetryWorker {
	return &TelemetryWorker{log: log, transport: transport, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	w.log.Info("Starting telemetry worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			report := wire.BackendStatus{
				Status:     status,
				Pid:        os.Getpid(),
				CPUPercent: cpu,
				RAMBytes:   rss,
				Ts:         time.Now().UnixMilli(),
			}
			payload, err := json.Marshal(report)
			if err != nil {
				w.log.Error("Telemetry marshal failed", "err", err)
				continue
			}
			w.transport.Publish(wire.TopicBackendStatus, payload, true)
		}
	}
}

// selfStats retrieves memory, CPU and OS status for the given process.
func selfStats(p *process.Process) (uint64, float64, string, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err := p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memInfo.RSS, cpuPercent, status, nil
}
