package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// ProbeFunc checks one dependency. A nil error means it is reachable.
type ProbeFunc func(ctx context.Context) error

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, up bool)

// Dependency is the last known state of one probed dependency.
type Dependency struct {
	Healthy     bool      `json:"healthy"`
	FailCount   int       `json:"fail_count"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Report is a point-in-time view of all dependencies.
type Report struct {
	Status       string                `json:"status"`
	Dependencies map[string]Dependency `json:"dependencies"`
}

// Healthy reports whether no dependency is degraded.
func (r Report) Healthy() bool { return r.Status == "ok" }

// Checker runs periodic dependency probes. A dependency is degraded after
// FailThreshold consecutive failures and healthy again after one success.
type Checker struct {
	mu        sync.Mutex
	probes    map[string]ProbeFunc
	state     map[string]*Dependency
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		probes: make(map[string]ProbeFunc),
		state:  make(map[string]*Dependency),
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Add registers a probe. Dependencies start healthy until probed.
func (h *Checker) Add(name string, probe ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
	h.state[name] = &Dependency{Healthy: true}
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	h.CheckAll(ctx)

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every dependency with bounded concurrency.
func (h *Checker) CheckAll(ctx context.Context) {
	h.mu.Lock()
	probes := make(map[string]ProbeFunc, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	sem := make(chan struct{}, 4)
	var wg sync.WaitGroup

	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe ProbeFunc) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := probe(pctx)
			cancel()
			h.record(name, err)
		}(name, probe)
	}

	wg.Wait()
}

func (h *Checker) record(name string, err error) {
	if h.onMetrics != nil {
		h.onMetrics(name, err == nil)
	}

	h.mu.Lock()
	dep := h.state[name]
	wasHealthy := dep.Healthy
	dep.LastChecked = time.Now().UTC()
	if err == nil {
		dep.FailCount = 0
		dep.LastError = ""
		dep.Healthy = true
	} else {
		dep.FailCount++
		dep.LastError = err.Error()
		if dep.FailCount >= h.cfg.FailThreshold {
			dep.Healthy = false
		}
	}
	nowHealthy, count := dep.Healthy, dep.FailCount
	h.mu.Unlock()

	switch {
	case !wasHealthy && nowHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case wasHealthy && !nowHealthy:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	}
}

// Snapshot returns the current state of all dependencies.
func (h *Checker) Snapshot() Report {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := Report{Status: "ok", Dependencies: make(map[string]Dependency, len(h.state))}
	for name, dep := range h.state {
		r.Dependencies[name] = *dep
		if !dep.Healthy {
			r.Status = "degraded"
		}
	}
	return r
}

// Names returns the registered dependency names, sorted.
func (h *Checker) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HTTPProbe reports a URL reachable when HEAD, or GET as a fallback, answers
// below 500. Gateways answer 4xx on their root, which still proves they are up.
func HTTPProbe(client *http.Client, url string) ProbeFunc {
	return func(ctx context.Context) error {
		var lastStatus int
		for _, method := range []string{http.MethodHead, http.MethodGet} {
			req, err := http.NewRequestWithContext(ctx, method, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				if method == http.MethodGet {
					return err
				}
				continue
			}
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
			lastStatus = resp.StatusCode
		}
		return fmt.Errorf("%s answered %d", url, lastStatus)
	}
}
