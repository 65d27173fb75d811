package pebble

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("engine")

const (
	DefaultCacheSize    = 64 << 20 // 64MB
	DefaultMemTableSize = 32 << 20 // 32MB
)

func init() {
	engine.Register(NewProvider(vfs.Default))
}

// --------------------------------------------------------------------------
// Provider
// --------------------------------------------------------------------------

// Provider opens pebble engines on a virtual file system.
// The registered provider uses the OS file system, tests can pass vfs.NewMem().
type Provider struct {
	fs vfs.FS
}

func NewProvider(fs vfs.FS) *Provider {
	return &Provider{fs: fs}
}

func (p *Provider) Implementation() engine.Implementation { return engine.ImplPebble }

func (p *Provider) Exists(path string) (bool, error) {
	if _, err := p.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	db, err := pebble.Open(path, &pebble.Options{FS: p.fs, ReadOnly: true, ErrorIfNotExists: true, Logger: pebbleLogger{}})
	if err != nil {
		return false, nil
	}
	return true, db.Close()
}

func (p *Provider) Open(opts engine.Options) (engine.Engine, error) {
	if !opts.Create {
		if _, err := p.fs.Stat(opts.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, engine.ErrNotExist
			}
			return nil, err
		}
	}

	cacheSize := opts.CacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	memTableSize := opts.MemTableSize
	if memTableSize == 0 {
		memTableSize = DefaultMemTableSize
	}

	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(opts.Path, &pebble.Options{
		FS:               p.fs,
		Cache:            cache,
		MemTableSize:     memTableSize,
		ReadOnly:         opts.ReadOnly,
		ErrorIfNotExists: !opts.Create,
		Logger:           pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("pebble: failed to open %q: %w", opts.Path, err)
	}

	writeOpts := pebble.NoSync
	if opts.Durable {
		writeOpts = pebble.Sync
	}

	Logger.Debugf("opened pebble engine at %q (read-only=%v, durable=%v)", opts.Path, opts.ReadOnly, opts.Durable)
	return &pebbleEngine{db: db, path: opts.Path, readOnly: opts.ReadOnly, writeOpts: writeOpts}, nil
}

func (p *Provider) Destroy(path string) error {
	if _, err := p.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.ErrNotExist
		}
		return err
	}
	return p.fs.RemoveAll(path)
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// pebbleEngine is the persistent engine on a pebble LSM tree.
type pebbleEngine struct {
	db        *pebble.DB
	path      string
	readOnly  bool
	writeOpts *pebble.WriteOptions
	mu        sync.RWMutex
	closed    bool
}

func (e *pebbleEngine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, false, engine.ErrClosed
	}
	return get(e.db, key)
}

func (e *pebbleEngine) NewIter(lower, upper []byte) (engine.Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, engine.ErrClosed
	}
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble: failed to create iterator: %w", err)
	}
	return &iterator{iter: iter}, nil
}

func (e *pebbleEngine) Snapshot() (engine.Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, engine.ErrClosed
	}
	return &snapshot{snap: e.db.NewSnapshot()}, nil
}

func (e *pebbleEngine) Apply(b *engine.Batch) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.ErrClosed
	}
	if e.readOnly {
		return engine.ErrReadOnly
	}
	if b.Empty() {
		return nil
	}

	batch := e.db.NewBatch()
	defer batch.Close()
	for _, op := range b.Ops() {
		var err error
		switch op.Kind {
		case engine.OpSet:
			err = batch.Set(op.Key, op.Value, nil)
		case engine.OpDelete:
			err = batch.Delete(op.Key, nil)
		case engine.OpDeleteRange:
			if op.End == nil {
				return errors.New("pebble: range delete needs an upper bound")
			}
			err = batch.DeleteRange(op.Key, op.End, nil)
		}
		if err != nil {
			return fmt.Errorf("pebble: failed to stage %s: %w", op.Kind, err)
		}
	}
	return batch.Commit(e.writeOpts)
}

func (e *pebbleEngine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.ErrClosed
	}
	if e.readOnly {
		return nil
	}
	return e.db.Flush()
}

func (e *pebbleEngine) Compact(start, end []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return engine.ErrClosed
	}
	if e.readOnly {
		return engine.ErrReadOnly
	}
	return e.db.Compact(start, end, true)
}

const supported = engine.FeaturePersistent | engine.FeatureSnapshot | engine.FeatureRangeDelete |
	engine.FeatureCompact | engine.FeatureSync | engine.FeatureReadOnly | engine.FeatureDiskUsage

func (e *pebbleEngine) SupportsFeature(feature engine.Feature) bool {
	return feature&supported == feature
}

// Metadata is the implementation specific part of the engine info
type Metadata struct {
	Flushes      int64  `json:"flushes"`
	Compactions  int64  `json:"compactions"`
	MemTableSize uint64 `json:"memtable_size"`
	ReadOnly     bool   `json:"read_only"`
}

func (e *pebbleEngine) GetInfo() engine.Info {
	info := engine.Info{
		Implementation:    engine.ImplPebble,
		Path:              e.path,
		SupportedFeatures: supported.Split(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return info
	}
	m := e.db.Metrics()
	info.SizeBytes = int64(m.DiskSpaceUsage())
	info.Metadata = Metadata{
		Flushes:      m.Flush.Count,
		Compactions:  m.Compact.Count,
		MemTableSize: m.MemTable.Size,
		ReadOnly:     e.readOnly,
	}
	return info
}

func (e *pebbleEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	Logger.Debugf("closing pebble engine at %q", e.path)
	return e.db.Close()
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

type snapshot struct {
	snap   *pebble.Snapshot
	closed atomic.Bool
}

func (s *snapshot) Get(key []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, engine.ErrClosed
	}
	return get(s.snap, key)
}

func (s *snapshot) NewIter(lower, upper []byte) (engine.Iterator, error) {
	if s.closed.Load() {
		return nil, engine.ErrClosed
	}
	iter, err := s.snap.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble: failed to create iterator: %w", err)
	}
	return &iterator{iter: iter}, nil
}

func (s *snapshot) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.snap.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// get copies the value out of pebble's buffer and maps ErrNotFound to found=false
func get(r getter, key []byte) ([]byte, bool, error) {
	value, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

// pebbleLogger routes pebble's own logging through the engine logger.
// Pebble reports routine events at info level, they are demoted to debug.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{})  { Logger.Debugf(format, args...) }
func (pebbleLogger) Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func (pebbleLogger) Fatalf(format string, args ...interface{}) { Logger.Panicf(format, args...) }
