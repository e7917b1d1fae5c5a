package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vyrodovalexey/avarfc/internal/destination"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

const (
	// DefaultSchedule is the probe schedule when none is configured.
	DefaultSchedule = "@every 30s"
	// DefaultProbeTimeout bounds one destination probe.
	DefaultProbeTimeout = 5 * time.Second
)

// EntrySource lists the destinations to probe. The registry satisfies it.
type EntrySource interface {
	Entries() []destination.Entry
}

// UpRecorder records probe outcomes, typically as a metric.
type UpRecorder interface {
	SetDestinationUp(destination string, up bool)
}

// PingFunc probes one destination.
type PingFunc func(ctx context.Context, dest rfc.Destination) error

// ProbeResult is the last probe outcome of a destination.
type ProbeResult struct {
	Up        bool
	Critical  bool
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// Prober pings every destination on a cron schedule and reports the
// outcome as a readiness check.
type Prober struct {
	source   EntrySource
	ping     PingFunc
	timeout  time.Duration
	recorder UpRecorder
	logger   observability.Logger
	cron     *cron.Cron

	mu      sync.RWMutex
	results map[string]ProbeResult
	probed  bool
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithUpRecorder sets where probe outcomes are recorded.
func WithUpRecorder(r UpRecorder) ProberOption {
	return func(p *Prober) {
		p.recorder = r
	}
}

// WithPingFunc replaces the probe.
func WithPingFunc(fn PingFunc) ProberOption {
	return func(p *Prober) {
		p.ping = fn
	}
}

// WithProberLogger sets the logger.
func WithProberLogger(logger observability.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// NewProber creates a prober over source.
func NewProber(source EntrySource, opts ...ProberOption) *Prober {
	p := &Prober{
		source:  source,
		ping:    destination.Ping,
		timeout: DefaultProbeTimeout,
		logger:  observability.NopLogger(),
		results: make(map[string]ProbeResult),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start probes once, then schedules probes per the cron spec. Overlapping
// runs are skipped.
func (p *Prober) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	cl := cronLogger{logger: p.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(schedule, func() { p.ProbeAll(ctx) }); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", schedule, err)
	}

	p.ProbeAll(ctx)

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	c.Start()

	p.logger.Info("destination probes scheduled", observability.String("schedule", schedule))
	return nil
}

// Stop halts the schedule and waits for a running probe to finish or ctx
// to end.
func (p *Prober) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// ProbeAll pings every destination concurrently and replaces the stored
// results. Destinations no longer listed are forgotten.
func (p *Prober) ProbeAll(ctx context.Context) {
	entries := p.source.Entries()
	results := make(map[string]ProbeResult, len(entries))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e destination.Entry) {
			defer wg.Done()
			r := p.probe(ctx, e)
			mu.Lock()
			results[e.Config.Name] = r
			mu.Unlock()
		}(e)
	}
	wg.Wait()

	p.mu.Lock()
	p.results = results
	p.probed = true
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context, e destination.Entry) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.ping(probeCtx, e.Destination)
	r := ProbeResult{
		Up:        err == nil,
		Critical:  e.Config.Critical,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		r.Error = err.Error()
		p.logger.Warn("destination probe failed",
			observability.String("destination", e.Config.Name),
			observability.Bool("critical", e.Config.Critical),
			observability.Error(err),
		)
	}
	if p.recorder != nil {
		p.recorder.SetDestinationUp(e.Config.Name, r.Up)
	}
	return r
}

// Results returns a copy of the last probe results by destination.
func (p *Prober) Results() map[string]ProbeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]ProbeResult, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

// Check summarizes the last probes: a failed critical destination is
// unhealthy, any other failure is degraded.
func (p *Prober) Check() Check {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.probed {
		return Check{Status: StatusHealthy, Message: "no probe has run yet"}
	}

	names := make([]string, 0, len(p.results))
	for name := range p.results {
		names = append(names, name)
	}
	sort.Strings(names)

	status := StatusHealthy
	var down []string
	for _, name := range names {
		r := p.results[name]
		if r.Up {
			continue
		}
		down = append(down, fmt.Sprintf("%s: %s", name, r.Error))
		if r.Critical {
			status = StatusUnhealthy
		} else if status != StatusUnhealthy {
			status = StatusDegraded
		}
	}

	if len(down) == 0 {
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("%d destination(s) reachable", len(names))}
	}
	return Check{Status: status, Message: "unreachable: " + strings.Join(down, "; ")}
}

// cronLogger adapts the gateway logger to cron.Logger.
type cronLogger struct {
	logger observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(pairs(keysAndValues), observability.Error(err))...)
}

func pairs(kv []interface{}) []observability.Field {
	fields := make([]observability.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, observability.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
