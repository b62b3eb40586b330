package health

import (
	"context"
	"time"

	"github.com/cuemby/syncstore/pkg/metrics"
)

// Monitor runs a Checker on Config.Interval and mirrors its Status into
// pkg/metrics' component registry, which backs the /healthz and /readyz
// handlers (GetReadiness treats "storage" and "cache" as critical).
type Monitor struct {
	name    string
	checker Checker
	config  Config
	status  *Status
	stop    chan struct{}
}

// NewMonitor builds a Monitor for checker, published under name.
func NewMonitor(name string, checker Checker, config Config) *Monitor {
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
		stop:    make(chan struct{}),
	}
}

// Start runs the check loop in a background goroutine until Stop is called.
func (m *Monitor) Start() {
	go m.run()
}

// Stop ends the check loop.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.status.InStartPeriod(m.config) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
			result := m.checker.Check(ctx)
			cancel()

			m.status.Update(result, m.config)
			metrics.UpdateComponent(m.name, m.status.Healthy, result.Message)
		}
	}
}
