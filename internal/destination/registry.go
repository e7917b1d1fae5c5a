// Package destination provides the remote systems the gateway calls:
// connectivity adapters reached over HTTP or NATS, and an in-process
// sandbox system.
package destination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avarfc/internal/cache"
	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// DefaultDrainDelay is how long a replaced destination stays open after a
// reload so that in-flight calls holding it can finish.
const DefaultDrainDelay = 90 * time.Second

// Entry is one configured destination.
type Entry struct {
	Config      config.DestinationConfig
	Destination rfc.Destination
}

type destinationSet struct {
	entries map[string]*Entry
	names   []string
}

// Registry holds the configured destinations and implements
// rfc.DestinationProvider. Reload swaps the whole set at once; callers
// that already resolved a destination keep using it.
type Registry struct {
	logger     observability.Logger
	recorder   MetadataRecorder
	onBreaker  BreakerStateFunc
	drainDelay time.Duration

	current atomic.Pointer[destinationSet]
	mu      sync.Mutex
	closed  bool
	timers  []*time.Timer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetadataRecorder sets the receiver of metadata cache lookups.
func WithMetadataRecorder(m MetadataRecorder) Option {
	return func(r *Registry) {
		r.recorder = m
	}
}

// WithBreakerStateFunc sets the circuit breaker state callback.
func WithBreakerStateFunc(fn BreakerStateFunc) Option {
	return func(r *Registry) {
		r.onBreaker = fn
	}
}

// WithDrainDelay sets how long replaced destinations stay open after a reload.
func WithDrainDelay(d time.Duration) Option {
	return func(r *Registry) {
		r.drainDelay = d
	}
}

// NewRegistry builds every destination in cfg.
func NewRegistry(destinations []config.DestinationConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		logger:     observability.NopLogger(),
		drainDelay: DefaultDrainDelay,
	}
	for _, opt := range opts {
		opt(r)
	}

	set, _, err := r.build(destinations, nil)
	if err != nil {
		return nil, err
	}
	r.current.Store(set)
	return r, nil
}

// Destination implements rfc.DestinationProvider.
func (r *Registry) Destination(_ context.Context, name string) (rfc.Destination, error) {
	e, ok := r.current.Load().entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rfc.ErrUnknownDestination, name)
	}
	return e.Destination, nil
}

// Entries returns the configured destinations in name order.
func (r *Registry) Entries() []Entry {
	set := r.current.Load()
	out := make([]Entry, 0, len(set.names))
	for _, name := range set.names {
		out = append(out, *set.entries[name])
	}
	return out
}

// Reload replaces the destination set. Destinations whose configuration is
// unchanged are kept as they are; replaced ones are closed after the drain
// delay.
func (r *Registry) Reload(destinations []config.DestinationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("registry is closed")
	}

	old := r.current.Load()
	set, retired, err := r.build(destinations, old)
	if err != nil {
		return err
	}
	r.current.Store(set)

	if len(retired) > 0 {
		r.timers = append(r.timers, time.AfterFunc(r.drainDelay, func() {
			closeAll(retired, r.logger)
		}))
	}

	r.logger.Info("destinations reloaded",
		observability.Strings("destinations", set.names),
		observability.Int("replaced", len(retired)),
	)
	return nil
}

// Close closes every destination.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, t := range r.timers {
		t.Stop()
	}

	set := r.current.Load()
	entries := make([]*Entry, 0, len(set.entries))
	for _, e := range set.entries {
		entries = append(entries, e)
	}
	return closeAll(entries, r.logger)
}

// build creates the destinations of cfgs, reusing entries of prev whose
// configuration did not change. It returns the entries of prev that are
// no longer used.
func (r *Registry) build(
	cfgs []config.DestinationConfig,
	prev *destinationSet,
) (set *destinationSet, retired []*Entry, err error) {
	set = &destinationSet{entries: make(map[string]*Entry, len(cfgs))}
	var created []*Entry

	for _, dc := range cfgs {
		if prev != nil {
			if e, ok := prev.entries[dc.Name]; ok && reflect.DeepEqual(e.Config, dc) {
				set.entries[dc.Name] = e
				set.names = append(set.names, dc.Name)
				continue
			}
		}

		dest, err := r.open(dc)
		if err != nil {
			_ = closeAll(created, r.logger)
			return nil, nil, fmt.Errorf("destination %s: %w", dc.Name, err)
		}
		e := &Entry{Config: dc, Destination: dest}
		created = append(created, e)
		set.entries[dc.Name] = e
		set.names = append(set.names, dc.Name)
	}
	sort.Strings(set.names)

	if prev != nil {
		for name, e := range prev.entries {
			if set.entries[name] != e {
				retired = append(retired, e)
			}
		}
	}
	return set, retired, nil
}

// open creates one destination with its breaker and metadata cache.
func (r *Registry) open(dc config.DestinationConfig) (rfc.Destination, error) {
	var dest rfc.Destination

	switch dc.Type {
	case config.DestinationSandbox:
		dest = NewSandbox(dc.Name)
	case config.DestinationHTTP, config.DestinationNATS:
		transport, err := r.transport(dc)
		if err != nil {
			return nil, err
		}
		dest = NewRemote(dc.Name, transport)
	default:
		return nil, fmt.Errorf("unsupported destination type %q", dc.Type)
	}

	c, err := cache.New(dc.Cache, r.logger.With(observability.String("destination", dc.Name)))
	if err != nil {
		if cl, ok := dest.(io.Closer); ok {
			_ = cl.Close()
		}
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	if c != nil {
		dest = newCachedDestination(dest, c, r.recorder, r.logger)
	}

	r.logger.Info("destination ready",
		observability.String("destination", dc.Name),
		observability.String("type", dc.Type),
		observability.String("cache", dc.Cache.Type),
		observability.Bool("circuitBreaker", dc.Breaker.Enabled && dc.Type != config.DestinationSandbox),
	)
	return dest, nil
}

func (r *Registry) transport(dc config.DestinationConfig) (Transport, error) {
	var (
		t   Transport
		err error
	)
	if dc.Type == config.DestinationNATS {
		t, err = NewNATSTransport(dc.Name, dc.URL, dc.SubjectPrefix, dc.Timeout.Duration())
	} else {
		t, err = NewHTTPTransport(dc.URL, dc.Timeout.Duration())
	}
	if err != nil {
		return nil, err
	}

	if !dc.Breaker.Enabled {
		return t, nil
	}
	if r.onBreaker != nil {
		r.onBreaker(dc.Name, 0)
	}
	return newBreakerTransport(dc.Name, dc.Breaker, t, r.logger, r.onBreaker), nil
}

func closeAll(entries []*Entry, logger observability.Logger) error {
	var errs []error
	for _, e := range entries {
		c, ok := e.Destination.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("failed to close destination",
				observability.String("destination", e.Config.Name),
				observability.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
