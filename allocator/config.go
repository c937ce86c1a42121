package allocator

// Config carries the Dispatcher's tier configuration: the fixed-size pool size
// classes, their per-class block count, the OS passthrough threshold, and the
// coalesce arena's initial size. A plain value callers can override before
// constructing an allocator; this exists purely for test and embedding flexibility.
type Config struct {
	// SizeClasses are the FixedPool block sizes, ascending. Each must be a
	// multiple of the allocator alignment.
	SizeClasses []int
	// BlockCount is the number of blocks each size-class pool is initialized with.
	BlockCount int
	// OSThreshold is the largest request, in bytes, that may still be served by a
	// FixedPool or the CoalesceArena; anything larger routes to OSDirect.
	OSThreshold int
	// ArenaInitialSize is the CoalesceArena's size at Init.
	ArenaInitialSize int
}

// DefaultConfig returns the stock tier configuration:
// FSA_CLASSES = [16, 32, 64, 128, 256, 512], block_count 1024 per class,
// OS_THRESHOLD = 10 MiB, ARENA_INITIAL = 4 MiB.
func DefaultConfig() Config {
	return Config{
		SizeClasses:      []int{16, 32, 64, 128, 256, 512},
		BlockCount:       1024,
		OSThreshold:      10 * 1024 * 1024,
		ArenaInitialSize: 4 * 1024 * 1024,
	}
}
