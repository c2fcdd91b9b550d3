package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"go.uber.org/zap"
)

// Mode selects the backend.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

// State of a Registry.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures the adapter a Registry builds.
type Options struct {
	Mode        Mode
	SQLitePath  string
	PostgresDSN string
	// Migrations overrides the embedded Postgres migration set.
	Migrations fs.FS
}

// Factory builds an unconnected adapter for opts.
type Factory func(opts Options, log *zap.Logger) (Adapter, error)

// DefaultFactory picks the embedded-file adapter for local mode and the
// networked adapter for cloud mode.
func DefaultFactory(opts Options, log *zap.Logger) (Adapter, error) {
	switch opts.Mode {
	case ModeLocal:
		return NewSQLiteAdapter(opts.SQLitePath, log), nil
	case ModeCloud:
		return NewPostgresAdapter(opts.PostgresDSN, opts.Migrations, log), nil
	default:
		return nil, fmt.Errorf("unknown database mode %q", opts.Mode)
	}
}

// Registry owns the single live adapter for the process. Handlers borrow it
// through Instance and never build their own.
type Registry struct {
	mu      sync.Mutex
	state   State
	mode    Mode
	adapter Adapter
	factory Factory
	log     *zap.Logger
}

func NewRegistry(log *zap.Logger, factory Factory) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{log: log, factory: factory}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default is the process-wide registry used by the binaries.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(nil, nil)
	})
	return defaultRegistry
}

// SetLogger replaces the logger used for lifecycle messages.
func (r *Registry) SetLogger(log *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log != nil {
		r.log = log
	}
}

// Initialize builds, connects and migrates the adapter for opts. Calling it
// again once ready returns the existing adapter unchanged. Any failure leaves
// the registry uninitialized and must be treated as fatal.
func (r *Registry) Initialize(ctx context.Context, opts Options) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateReady {
		r.log.Info("database already initialized", zap.String("mode", string(r.mode)))
		return r.adapter, nil
	}

	r.state = StateInitializing
	r.log.Info("initializing database", zap.String("mode", string(opts.Mode)))

	adapter, err := r.factory(opts, r.log)
	if err != nil {
		r.state = StateUninitialized
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		r.state = StateUninitialized
		return nil, err
	}
	if err := adapter.Migrate(ctx); err != nil {
		if closeErr := adapter.Close(ctx); closeErr != nil {
			r.log.Warn("close after failed migration", zap.Error(closeErr))
		}
		r.state = StateUninitialized
		return nil, err
	}

	r.adapter = adapter
	r.mode = opts.Mode
	r.state = StateReady
	r.log.Info("database initialized",
		zap.String("mode", string(opts.Mode)),
		zap.String("dialect", adapter.Dialect().Name()),
	)
	return adapter, nil
}

// Instance returns the ready adapter or ErrNotInitialized.
func (r *Registry) Instance() (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateReady {
		return nil, fmt.Errorf("%w (state %s)", ErrNotInitialized, r.state)
	}
	return r.adapter, nil
}

func (r *Registry) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close releases the adapter and clears the registry so a later Initialize
// can build a new one.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateReady {
		return nil
	}
	err := r.adapter.Close(ctx)
	r.adapter = nil
	r.state = StateClosed
	r.log.Info("database connection closed")
	return err
}

// Reset closes any live adapter and returns the registry to Uninitialized.
func (r *Registry) Reset(ctx context.Context) error {
	err := r.Close(ctx)
	r.mu.Lock()
	r.state = StateUninitialized
	r.mode = ""
	r.mu.Unlock()
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}
