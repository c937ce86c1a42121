// Package allocator implements the Dispatcher façade:
// it owns every tier's lifecycle, routes alloc(n) to a tier by size, and routes
// free(p) to a tier by pointer ownership alone.
package allocator

import (
	"unsafe"

	"github.com/FEDOS-o/memalloc/arena"
	"github.com/FEDOS-o/memalloc/memutils"
	"github.com/FEDOS-o/memalloc/osdirect"
	"github.com/FEDOS-o/memalloc/pagesource"
	"github.com/FEDOS-o/memalloc/pool"
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

const alignSize = 8

// lifecycleState tracks the fresh -> initialized -> destroyed progression a
// Dispatcher moves through; destroyed is terminal.
type lifecycleState int

const (
	stateFresh lifecycleState = iota
	stateInitialized
	stateDestroyed
)

// Dispatcher is the allocator surface: New/Init/Alloc/Free/Destroy
// plus the out-of-contract diagnostic dumps. It is a façade owning a fixed array of
// sub-allocators and delegating by classification, one routing decision per public
// call.
type Dispatcher struct {
	config Config
	source pagesource.Source
	logger *slog.Logger

	pools []*pool.FixedPool
	arena *arena.CoalesceArena
	os    *osdirect.OSDirect

	state lifecycleState
}

// New constructs a Dispatcher with the given configuration and backing page
// source. logger may be nil, in which case slog.Default() is used.
func New(config Config, source pagesource.Source, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	pools := make([]*pool.FixedPool, len(config.SizeClasses))
	for i, size := range config.SizeClasses {
		pools[i] = pool.New(size, config.BlockCount, source)
	}

	return &Dispatcher{
		config: config,
		source: source,
		logger: logger,
		pools:  pools,
		arena:  arena.New(source),
		os:     osdirect.New(source),
	}
}

// NewDefault constructs a Dispatcher with DefaultConfig() and the default logger.
func NewDefault(source pagesource.Source) *Dispatcher {
	return New(DefaultConfig(), source, nil)
}

// Init initializes every size-class pool, the coalesce arena, and the OS-direct
// tier. Idempotent if already initialized; a precondition violation if called
// after Destroy.
func (d *Dispatcher) Init() error {
	if d.state == stateDestroyed {
		memutils.DebugAssert(false, "allocator: init called after destroy")
		return cerrors.New("allocator: cannot init a destroyed dispatcher")
	}
	if d.state == stateInitialized {
		return nil
	}

	for i, p := range d.pools {
		if err := p.Init(); err != nil {
			return cerrors.Wrapf(err, "failed to init size-class pool %d (block size %d)", i, p.BlockSize())
		}
	}
	if err := d.arena.Init(d.config.ArenaInitialSize); err != nil {
		return cerrors.Wrap(err, "failed to init coalesce arena")
	}
	if err := d.os.Init(); err != nil {
		return cerrors.Wrap(err, "failed to init os-direct tier")
	}

	d.state = stateInitialized
	d.logger.Debug("allocator initialized",
		slog.Int("sizeClasses", len(d.pools)),
		slog.Int("arenaSize", d.config.ArenaInitialSize),
		slog.Int("osThreshold", d.config.OSThreshold))
	return nil
}

// Destroy releases every outstanding OS block, destroys the arena, destroys every
// pool, and marks the dispatcher terminal. Idempotent on a fresh or already
// destroyed dispatcher.
func (d *Dispatcher) Destroy() {
	if d.state != stateInitialized {
		return
	}

	d.os.Destroy()
	d.arena.Destroy()
	for _, p := range d.pools {
		p.Destroy()
	}

	d.state = stateDestroyed
	d.logger.Debug("allocator destroyed")
}

// Alloc routes a request by size: zero returns nil, oversize
// requests go to OSDirect, otherwise the smallest fitting size-class pool is tried
// and a failure (including no fitting class) falls through to the coalesce arena.
// There is no spill from the arena back to the OS.
func (d *Dispatcher) Alloc(n int) unsafe.Pointer {
	memutils.DebugAssert(d.state == stateInitialized, "allocator: alloc called before init or after destroy")

	if n <= 0 {
		return nil
	}

	m := memutils.AlignUp(n, alignSize)
	if m > d.config.OSThreshold {
		return d.os.Alloc(m)
	}

	for _, p := range d.pools {
		if p.BlockSize() >= m {
			if ptr := p.Alloc(); ptr != nil {
				return ptr
			}
			break
		}
	}

	return d.arena.Alloc(m)
}

// Free routes by ownership probe: OSDirect first,
// then each FixedPool's Belongs, then the coalesce arena as the catch-all. nil is
// a no-op.
func (d *Dispatcher) Free(ptr unsafe.Pointer) {
	memutils.DebugAssert(d.state == stateInitialized, "allocator: free called before init or after destroy")

	if ptr == nil {
		return
	}

	if d.os.Owns(ptr) {
		d.os.Free(ptr)
		return
	}

	for _, p := range d.pools {
		if p.Belongs(ptr) {
			p.Free(ptr)
			return
		}
	}

	d.arena.Free(ptr)
}

// Validate runs every tier's own Validate and returns the first error found, if
// any.
func (d *Dispatcher) Validate() error {
	if d.state != stateInitialized {
		return nil
	}

	for i, p := range d.pools {
		if err := p.Validate(); err != nil {
			return cerrors.Wrapf(err, "size-class pool %d", i)
		}
	}
	if err := d.arena.Validate(); err != nil {
		return cerrors.Wrap(err, "coalesce arena")
	}
	if err := d.os.Validate(); err != nil {
		return cerrors.Wrap(err, "os-direct tier")
	}
	return nil
}

// Statistics aggregates memutils.Statistics across every tier.
func (d *Dispatcher) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	if d.state != stateInitialized {
		return stats
	}

	for _, p := range d.pools {
		p.AddStatistics(&stats)
	}
	d.arena.AddStatistics(&stats)
	d.os.AddStatistics(&stats)
	return stats
}
