package memory

import (
	"bytes"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

var Logger = logger.GetLogger("engine")

const degree = 32

func init() {
	engine.Register(&provider{stores: xsync.NewMapOf[string, *store]()})
}

// --------------------------------------------------------------------------
// Provider
// --------------------------------------------------------------------------

// provider keeps every memory engine of the process by path, so an engine outlives Close
// until it is destroyed.
type provider struct {
	stores *xsync.MapOf[string, *store]
}

func (p *provider) Implementation() engine.Implementation { return engine.ImplMemory }

func (p *provider) Open(opts engine.Options) (engine.Engine, error) {
	var s *store
	if opts.Create {
		s, _ = p.stores.LoadOrCompute(opts.Path, func() *store {
			Logger.Debugf("created memory engine %q", opts.Path)
			return &store{tree: newTree()}
		})
	} else {
		var ok bool
		if s, ok = p.stores.Load(opts.Path); !ok {
			return nil, engine.ErrNotExist
		}
	}
	return &memEngine{store: s, path: opts.Path, readOnly: opts.ReadOnly}, nil
}

func (p *provider) Exists(path string) (bool, error) {
	_, ok := p.stores.Load(path)
	return ok, nil
}

func (p *provider) Destroy(path string) error {
	if _, ok := p.stores.LoadAndDelete(path); !ok {
		return engine.ErrNotExist
	}
	return nil
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

func newTree() *btree.BTreeG[item] { return btree.NewG[item](degree, less) }

// store is the state shared by all opens of one path
type store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// memEngine is a volatile engine on a copy-on-write B-tree.
// Snapshots are lazy clones of the tree, so taking one is O(1) and writes after it copy the touched nodes.
type memEngine struct {
	*store
	path     string
	readOnly bool
	closeMu  sync.RWMutex
	closed   bool
}

func (e *memEngine) checkOpen() error {
	if e.closed {
		return engine.ErrClosed
	}
	return nil
}

func (e *memEngine) Get(key []byte) ([]byte, bool, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}

	e.mu.RLock()
	it, ok := e.tree.Get(item{key: key})
	e.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (e *memEngine) NewIter(lower, upper []byte) (engine.Iterator, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.NewIter(lower, upper)
}

func (e *memEngine) Snapshot() (engine.Snapshot, error) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	// Clone marks the shared nodes read-only, it must not race with writers
	e.mu.Lock()
	clone := e.tree.Clone()
	e.mu.Unlock()
	return &snapshot{tree: clone}, nil
}

func (e *memEngine) Apply(b *engine.Batch) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.readOnly {
		return engine.ErrReadOnly
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range b.Ops() {
		switch op.Kind {
		case engine.OpSet:
			e.tree.ReplaceOrInsert(item{key: bytes.Clone(op.Key), value: append([]byte{}, op.Value...)})
		case engine.OpDelete:
			e.tree.Delete(item{key: op.Key})
		case engine.OpDeleteRange:
			var doomed []item
			collect := func(it item) bool {
				doomed = append(doomed, it)
				return true
			}
			if op.End == nil {
				e.tree.AscendGreaterOrEqual(item{key: op.Key}, collect)
			} else {
				e.tree.AscendRange(item{key: op.Key}, item{key: op.End}, collect)
			}
			for _, it := range doomed {
				e.tree.Delete(it)
			}
		}
	}
	return nil
}

// Sync is a no-op, the engine is volatile
func (e *memEngine) Sync() error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	return e.checkOpen()
}

// Compact is a no-op, the tree never holds garbage
func (e *memEngine) Compact(start, end []byte) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	return e.checkOpen()
}

func (e *memEngine) SupportsFeature(feature engine.Feature) bool {
	supported := engine.FeatureSnapshot | engine.FeatureRangeDelete | engine.FeatureCompact |
		engine.FeatureSync | engine.FeatureReadOnly
	return feature&supported == feature
}

// Metadata is the implementation specific part of the engine info
type Metadata struct {
	Items  int `json:"items"`
	Degree int `json:"degree"`
}

func (e *memEngine) GetInfo() engine.Info {
	e.mu.RLock()
	var size int64
	e.tree.Ascend(func(it item) bool {
		size += int64(len(it.key) + len(it.value))
		return true
	})
	items := e.tree.Len()
	e.mu.RUnlock()

	supported := engine.FeatureSnapshot | engine.FeatureRangeDelete | engine.FeatureCompact |
		engine.FeatureSync | engine.FeatureReadOnly
	return engine.Info{
		Implementation:    engine.ImplMemory,
		Path:              e.path,
		SizeBytes:         size,
		SupportedFeatures: supported.Split(),
		Metadata:          Metadata{Items: items, Degree: degree},
	}
}

func (e *memEngine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	e.closed = true
	return nil
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

type snapshot struct {
	tree *btree.BTreeG[item]
}

func (s *snapshot) Get(key []byte) ([]byte, bool, error) {
	if s.tree == nil {
		return nil, false, engine.ErrClosed
	}
	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(it.value), true, nil
}

func (s *snapshot) NewIter(lower, upper []byte) (engine.Iterator, error) {
	if s.tree == nil {
		return nil, engine.ErrClosed
	}
	return &iterator{tree: s.tree, lower: lower, upper: upper}, nil
}

func (s *snapshot) Close() error {
	s.tree = nil
	return nil
}
