package engine

import (
	"errors"
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplPebble Implementation = "pebble"
	ImplMemory Implementation = "memory"
)

// Feature represents engine capabilities as bit flags
type Feature uint64

const (
	FeaturePersistent  Feature = 1 << iota // Data survives a process restart
	FeatureSnapshot                        // Support for isolated snapshot readers
	FeatureRangeDelete                     // Support for range tombstones in batches
	FeatureCompact                         // Support for manual compaction
	FeatureSync                            // Support for flushing state to media
	FeatureReadOnly                        // Support for read-only opens
	FeatureDiskUsage                       // Support for reporting on-disk size
)

var allFeatures = []Feature{
	FeaturePersistent,
	FeatureSnapshot,
	FeatureRangeDelete,
	FeatureCompact,
	FeatureSync,
	FeatureReadOnly,
	FeatureDiskUsage,
}

func (f Feature) String() string {
	switch f {
	case FeaturePersistent:
		return "Persistent"
	case FeatureSnapshot:
		return "Snapshot"
	case FeatureRangeDelete:
		return "RangeDelete"
	case FeatureCompact:
		return "Compact"
	case FeatureSync:
		return "Sync"
	case FeatureReadOnly:
		return "ReadOnly"
	case FeatureDiskUsage:
		return "DiskUsage"
	default:
		return "Unknown"
	}
}

// Split returns the single flags contained in f
func (f Feature) Split() []Feature {
	var out []Feature
	for _, feature := range allFeatures {
		if f&feature != 0 {
			out = append(out, feature)
		}
	}
	return out
}

type Info struct {
	Implementation    Implementation `json:"implementation"`
	Path              string         `json:"path"`
	SizeBytes         int64          `json:"size_bytes"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Options configure how a provider opens an engine
type Options struct {
	Path         string // Location of the engine (directory for persistent engines, name otherwise)
	Create       bool   // Create the engine if it does not exist
	ReadOnly     bool   // Reject all writes
	Durable      bool   // Sync every applied batch
	CacheSize    int64  // Block cache size in bytes (engine specific, 0 = default)
	MemTableSize uint64 // Memtable size in bytes (engine specific, 0 = default)
}

var (
	ErrClosed   = errors.New("engine: closed")
	ErrExist    = errors.New("engine: already exists")
	ErrNotExist = errors.New("engine: does not exist")
	ErrReadOnly = errors.New("engine: read-only")
)

// --------------------------------------------------------------------------
// Engine Interfaces
// --------------------------------------------------------------------------

// Reader gives read access to an ordered keyspace.
type Reader interface {
	// Get returns a copy of the value stored under key.
	// The boolean is false if the key does not exist, this is not an error.
	Get(key []byte) (value []byte, found bool, err error)

	// NewIter returns an iterator over all keys in [lower, upper).
	// A nil bound means unbounded. The iterator is unpositioned after creation.
	NewIter(lower, upper []byte) (Iterator, error)
}

// Snapshot is an isolated reader: writes applied after it was taken are not observed.
// Snapshots hold engine resources and must be closed.
type Snapshot interface {
	Reader
	Close() error
}

// Iterator walks an ordered keyspace in both directions.
// Key and Value are only valid until the next positioning call, callers that keep them must copy.
type Iterator interface {
	First() bool
	Last() bool
	SeekGE(key []byte) bool
	SeekLT(key []byte) bool
	Next() bool
	Prev() bool
	Valid() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// Engine defines the storage contract the kvdb core is built on.
// Any implementation must provide an ordered byte keyspace, isolated snapshots and atomic batches.
// Thread-safety: All methods must be safe for concurrent use.
type Engine interface {
	Reader

	// Snapshot returns an isolated view of the current state.
	Snapshot() (Snapshot, error)

	// Apply writes all operations of the batch atomically.
	// Range deletes are applied before point operations of the same batch.
	Apply(b *Batch) error

	// Sync persists all applied batches to media (no-op for volatile engines).
	Sync() error

	// Compact triggers a manual compaction of [start, end).
	Compact(start, end []byte) error

	// SupportsFeature checks if the engine supports all the given features.
	SupportsFeature(feature Feature) bool

	// GetInfo returns information about the engine.
	GetInfo() Info

	// Close closes the engine. All snapshots and iterators must be closed before.
	Close() error
}

// Provider opens and removes engines of one implementation.
type Provider interface {
	Implementation() Implementation

	// Open opens the engine at opts.Path.
	// It returns ErrNotExist if the engine does not exist and opts.Create is false.
	Open(opts Options) (Engine, error)

	// Exists reports if an engine exists at path.
	Exists(path string) (bool, error)

	// Destroy removes the engine at path. The engine must be closed.
	Destroy(path string) error
}

// --------------------------------------------------------------------------
// Provider Registry
// --------------------------------------------------------------------------

var providers = xsync.NewMapOf[Implementation, Provider]()

// Register makes a provider available by its implementation name.
// Engines call this from their init function, registering twice panics.
func Register(p Provider) {
	if _, loaded := providers.LoadOrStore(p.Implementation(), p); loaded {
		panic(fmt.Sprintf("engine: provider %q registered twice", p.Implementation()))
	}
}

// Lookup returns the provider registered for impl.
func Lookup(impl Implementation) (Provider, error) {
	p, ok := providers.Load(impl)
	if !ok {
		return nil, fmt.Errorf("engine: unknown implementation %q", impl)
	}
	return p, nil
}

// Implementations lists all registered implementation names.
func Implementations() []Implementation {
	var out []Implementation
	providers.Range(func(impl Implementation, _ Provider) bool {
		out = append(out, impl)
		return true
	})
	return out
}
