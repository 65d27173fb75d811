package kvdb

import (
	"context"
	"encoding/binary"
	"errors"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"github.com/ValentinKolb/tKV/lib/kvdb/internal/conflict"
	"github.com/puzpuzpuz/xsync/v3"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ConfigFileName is the optional YAML file in a KVDB home holding open defaults
const ConfigFileName = "kvdb.conf"

// KVDB is an open database. It owns its KVS instances and is the transaction domain:
// a transaction can span every KVS of one KVDB.
//
// Thread-safety: All methods are safe for concurrent use.
type KVDB struct {
	home     string
	provider engine.Provider
	eng      engine.Engine
	params   resolved
	readOnly bool

	// every operation holds lifeMu for reading, Close takes it for writing
	lifeMu sync.RWMutex
	closed bool

	// commits hold commitMu for writing, snapshots for reading, so a snapshot
	// always reads exactly the commits up to seq
	commitMu   sync.RWMutex
	seq        atomic.Uint64
	activeTxns atomic.Int64
	nextOwner  atomic.Uint64

	tracker *conflict.Tracker
	txns    *xsync.MapOf[*Transaction, struct{}] // active epochs
	cursors *xsync.MapOf[*Cursor, struct{}]

	catalogMu sync.Mutex
	open      map[string]*KVS // open KVS by name, guarded by catalogMu

	compactMu     sync.Mutex
	compaction    CompactStatus
	compactCancel context.CancelFunc
	compactWG     sync.WaitGroup
}

// Info describes an open KVDB
type Info struct {
	Home            string      `json:"home"`
	Engine          string      `json:"engine"`
	Features        []string    `json:"features"`
	ReadOnly        bool        `json:"read_only"`
	Durable         bool        `json:"durable"`
	KVSCount        int         `json:"kvs_count"`
	OpenKVS         int         `json:"open_kvs"`
	CommitSeq       uint64      `json:"commit_seq"`
	ActiveTxns      int64       `json:"active_txns"`
	OpenCursors     int         `json:"open_cursors"`
	ConflictRecords int         `json:"conflict_records"`
	SizeBytes       int64       `json:"size_bytes"`
	EngineMetadata  interface{} `json:"engine_metadata"`
}

// CompactStatus reports the progress of the last compaction
type CompactStatus struct {
	Active     bool      `json:"active"`
	Canceled   bool      `json:"canceled"`
	Done       int       `json:"done"`  // compacted keyspaces
	Total      int       `json:"total"` // keyspaces to compact
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Create creates a new KVDB at home using the engine selected by the global engine param
func Create(home string, params ...string) error {
	const op = "kvdb.create"
	if err := checkInit(op); err != nil {
		return err
	}
	if home == "" {
		return NewError(CodeInvalid, op, "home must not be empty")
	}
	p, err := ParseParams(params...)
	if err != nil {
		return err
	}
	r, err := kvdbCreateParams.resolve(op, p)
	if err != nil {
		return err
	}
	provider, err := engineProvider(op)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	exists, err := provider.Exists(home)
	if err != nil {
		return engineError(op, err)
	}
	if exists {
		return NewError(CodeExists, op, "kvdb %q already exists", home)
	}

	eng, err := provider.Open(engine.Options{
		Path:         home,
		Create:       true,
		Durable:      true,
		CacheSize:    int64(r.Uint("pebble.cache_size")),
		MemTableSize: r.Uint("pebble.memtable_size"),
	})
	if err != nil {
		return engineError(op, err)
	}

	next := make([]byte, 4)
	binary.BigEndian.PutUint32(next, catalogID+1)
	b := engine.NewBatch()
	b.Set(metaKey, []byte{formatVersion})
	b.Set(nextIDKey, next)
	if err := eng.Apply(b); err != nil {
		_ = eng.Close()
		return engineError(op, err)
	}
	if err := eng.Close(); err != nil {
		return engineError(op, err)
	}

	Logger.Infof("created kvdb %q (%s)", home, provider.Implementation())
	return nil
}

// Open opens the KVDB at home. A home can only be open once per process.
// Defaults are read from kvdb.conf in the home (if present), params override them.
func Open(home string, params ...string) (*KVDB, error) {
	const op = "kvdb.open"
	if err := checkInit(op); err != nil {
		return nil, err
	}
	provider, err := engineProvider(op)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.dbs.Load(home); ok {
		return nil, NewError(CodeBusy, op, "kvdb %q is already open", home)
	}
	exists, err := provider.Exists(home)
	if err != nil {
		return nil, engineError(op, err)
	}
	if !exists {
		return nil, NewError(CodeNotFound, op, "kvdb %q does not exist", home)
	}

	p := NewParams()
	if provider.Implementation() == engine.ImplPebble {
		conf := filepath.Join(home, ConfigFileName)
		if _, err := os.Stat(conf); err == nil {
			if err := p.FromFile(conf); err != nil {
				return nil, err
			}
		}
	}
	user, err := ParseParams(params...)
	if err != nil {
		return nil, err
	}
	p.merge(user)
	r, err := kvdbOpenParams.resolve(op, p)
	if err != nil {
		return nil, err
	}

	eng, err := provider.Open(engine.Options{
		Path:         home,
		ReadOnly:     r.Bool("read_only"),
		Durable:      r.Bool("durability.enabled"),
		CacheSize:    int64(r.Uint("pebble.cache_size")),
		MemTableSize: r.Uint("pebble.memtable_size"),
	})
	if errors.Is(err, engine.ErrNotExist) {
		return nil, NewError(CodeNotFound, op, "kvdb %q does not exist", home)
	} else if err != nil {
		return nil, engineError(op, err)
	}

	meta, found, err := eng.Get(metaKey)
	if err != nil || !found || len(meta) != 1 || meta[0] != formatVersion {
		_ = eng.Close()
		if err != nil {
			return nil, engineError(op, err)
		}
		return nil, NewError(CodeInvalid, op, "%q is not a kvdb home of format %d", home, formatVersion)
	}

	db := &KVDB{
		home:     home,
		provider: provider,
		eng:      eng,
		params:   r,
		readOnly: r.Bool("read_only"),
		txns:     xsync.NewMapOf[*Transaction, struct{}](),
		cursors:  xsync.NewMapOf[*Cursor, struct{}](),
		open:     make(map[string]*KVS),
	}
	db.tracker = conflict.New(db.horizon, 0, func(n int) { metricPruned.Add(n) })
	rt.dbs.Store(home, db)

	Logger.Infof("opened kvdb %q (%s, read_only=%t)", home, provider.Implementation(), db.readOnly)
	return db, nil
}

// Drop removes the KVDB at home. It must not be open.
func Drop(home string) error {
	const op = "kvdb.drop"
	if err := checkInit(op); err != nil {
		return err
	}
	provider, err := engineProvider(op)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.dbs.Load(home); ok {
		return NewError(CodeBusy, op, "kvdb %q is open", home)
	}
	exists, err := provider.Exists(home)
	if err != nil {
		return engineError(op, err)
	}
	if !exists {
		return NewError(CodeNotFound, op, "kvdb %q does not exist", home)
	}
	if err := provider.Destroy(home); err != nil {
		return engineError(op, err)
	}
	Logger.Infof("dropped kvdb %q", home)
	return nil
}

// Close closes the KVDB and invalidates every KVS, Transaction and Cursor derived from it
func (db *KVDB) Close() error {
	const op = "kvdb.close"
	if err := checkInit(op); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if cur, ok := rt.dbs.Load(db.home); ok && cur == db {
		rt.dbs.Delete(db.home)
	}
	return db.close()
}

func (db *KVDB) close() error {
	db.stopCompaction()

	db.lifeMu.Lock()
	defer db.lifeMu.Unlock()

	if db.closed {
		return &Error{Code: CodeClosed, Op: "kvdb.close", Msg: "kvdb is already closed"}
	}
	db.closed = true

	// iterators and snapshots must be gone before the engine closes
	db.cursors.Range(func(c *Cursor, _ struct{}) bool {
		c.invalidate()
		db.cursors.Delete(c)
		return true
	})
	db.txns.Range(func(t *Transaction, _ struct{}) bool {
		t.invalidate()
		db.txns.Delete(t)
		return true
	})

	db.catalogMu.Lock()
	for name, kvs := range db.open {
		kvs.closed.Store(true)
		delete(db.open, name)
	}
	db.catalogMu.Unlock()

	db.tracker.Close()
	if err := db.eng.Close(); err != nil {
		return engineError("kvdb.close", err)
	}
	Logger.Infof("closed kvdb %q", db.home)
	return nil
}

// enter guards every operation, callers must call leave afterwards
func (db *KVDB) enter(op string) error {
	if err := checkInit(op); err != nil {
		return err
	}
	db.lifeMu.RLock()
	if db.closed {
		db.lifeMu.RUnlock()
		return &Error{Code: CodeClosed, Op: op, Msg: "kvdb is closed"}
	}
	return nil
}

func (db *KVDB) leave() {
	db.lifeMu.RUnlock()
}

func (db *KVDB) checkWritable(op string) error {
	if db.readOnly {
		return NewError(CodeReadOnly, op, "kvdb %q is read-only", db.home)
	}
	return nil
}

// horizon returns the lowest sequence any active transaction reads at, or the current sequence
func (db *KVDB) horizon() uint64 {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	limit := db.seq.Load()
	db.txns.Range(func(t *Transaction, _ struct{}) bool {
		if h := t.horizon.Load(); h != 0 && h-1 < limit {
			limit = h - 1
		}
		return true
	})
	return limit
}

// applyPlain applies a batch outside of any transaction. written are the engine keys of
// point writes, they are published to running transactions as committed writes.
func (db *KVDB) applyPlain(op string, b *engine.Batch, written [][]byte) error {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := db.eng.Apply(b); err != nil {
		return engineError(op, err)
	}
	seq := db.seq.Add(1)
	if db.activeTxns.Load() > 0 {
		for _, key := range written {
			db.tracker.Publish(key, 0, seq)
		}
	}
	return nil
}

// snapshot takes a snapshot together with the sequence it reads at
func (db *KVDB) snapshot(op string) (*snapRef, error) {
	db.commitMu.RLock()
	defer db.commitMu.RUnlock()

	snap, err := db.eng.Snapshot()
	if err != nil {
		return nil, engineError(op, err)
	}
	return newSnapRef(snap, db.seq.Load()), nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Home returns the location the KVDB was opened from
func (db *KVDB) Home() string { return db.home }

// ReadOnly reports if the KVDB rejects mutations
func (db *KVDB) ReadOnly() bool { return db.readOnly }

// Param returns the value of an open parameter
func (db *KVDB) Param(name string) (string, error) {
	const op = "kvdb.param"
	if err := db.enter(op); err != nil {
		return "", err
	}
	defer db.leave()
	return db.params.Format(op, name)
}

// Transaction allocates a new transaction handle in state INVALID.
// Only active epochs are registered with the KVDB, a handle that is not active can be
// dropped without Free.
func (db *KVDB) Transaction() (*Transaction, error) {
	const op = "kvdb.txn_alloc"
	if err := db.enter(op); err != nil {
		return nil, err
	}
	defer db.leave()
	return &Transaction{db: db}, nil
}

// Sync flushes all applied writes to media
func (db *KVDB) Sync() error {
	const op = "kvdb.sync"
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	if db.readOnly {
		return nil
	}
	if err := db.eng.Sync(); err != nil {
		return engineError(op, err)
	}
	return nil
}

// Info returns information about the KVDB and its engine
func (db *KVDB) Info() (Info, error) {
	const op = "kvdb.info"
	if err := db.enter(op); err != nil {
		return Info{}, err
	}
	defer db.leave()

	names, _, err := db.listKVS(op)
	if err != nil {
		return Info{}, err
	}
	db.catalogMu.Lock()
	open := len(db.open)
	db.catalogMu.Unlock()

	ei := db.eng.GetInfo()
	features := make([]string, 0, len(ei.SupportedFeatures))
	for _, f := range ei.SupportedFeatures {
		features = append(features, f.String())
	}

	return Info{
		Home:            db.home,
		Engine:          string(ei.Implementation),
		Features:        features,
		ReadOnly:        db.readOnly,
		Durable:         db.params.Bool("durability.enabled"),
		KVSCount:        len(names),
		OpenKVS:         open,
		CommitSeq:       db.seq.Load(),
		ActiveTxns:      db.activeTxns.Load(),
		OpenCursors:     db.cursors.Size(),
		ConflictRecords: db.tracker.Len(),
		SizeBytes:       ei.SizeBytes,
		EngineMetadata:  ei.Metadata,
	}, nil
}

// --------------------------------------------------------------------------
// KVS Catalog
// --------------------------------------------------------------------------

func validateName(op, name string) error {
	if name == "" || len(name) > NameLenMax {
		return NewError(CodeInvalid, op, "kvs name must have 1 to %d characters", NameLenMax)
	}
	for _, c := range name {
		ok := c == '-' || c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !ok {
			return NewError(CodeInvalid, op, "kvs name %q contains %q, allowed are letters, digits, '-' and '_'", name, c)
		}
	}
	return nil
}

func (db *KVDB) lookupKVS(op, name string) (kvsRecord, bool, error) {
	raw, found, err := db.eng.Get(nameKey(name))
	if err != nil {
		return kvsRecord{}, false, engineError(op, err)
	}
	if !found {
		return kvsRecord{}, false, nil
	}
	rec, ok := decodeKVSRecord(raw)
	if !ok {
		return kvsRecord{}, false, NewError(CodeEngine, op, "corrupt catalog record for kvs %q", name)
	}
	return rec, true, nil
}

// listKVS returns all KVS names in lexicographic order with their records
func (db *KVDB) listKVS(op string) ([]string, []kvsRecord, error) {
	it, err := db.eng.NewIter(namesKey, util.PrefixEnd(namesKey))
	if err != nil {
		return nil, nil, engineError(op, err)
	}
	defer it.Close()

	var names []string
	var records []kvsRecord
	for ok := it.First(); ok; ok = it.Next() {
		rec, valid := decodeKVSRecord(it.Value())
		if !valid {
			return nil, nil, NewError(CodeEngine, op, "corrupt catalog record %q", it.Key()[len(namesKey):])
		}
		names = append(names, string(it.Key()[len(namesKey):]))
		records = append(records, rec)
	}
	if err := it.Error(); err != nil {
		return nil, nil, engineError(op, err)
	}
	return names, records, nil
}

// KVSCreate creates a new KVS. Params: prefix.length, suffix.length.
func (db *KVDB) KVSCreate(name string, params ...string) error {
	const op = "kvdb.kvs_create"
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	if err := db.checkWritable(op); err != nil {
		return err
	}
	if err := validateName(op, name); err != nil {
		return err
	}
	p, err := ParseParams(params...)
	if err != nil {
		return err
	}
	r, err := kvsCreateParams.resolve(op, p)
	if err != nil {
		return err
	}

	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()

	if _, found, err := db.lookupKVS(op, name); err != nil {
		return err
	} else if found {
		return NewError(CodeExists, op, "kvs %q already exists", name)
	}
	names, _, err := db.listKVS(op)
	if err != nil {
		return err
	}
	if len(names) >= KVSCountMax {
		return NewError(CodeInvalid, op, "kvdb already holds the maximum of %d kvs", KVSCountMax)
	}

	raw, found, err := db.eng.Get(nextIDKey)
	if err != nil {
		return engineError(op, err)
	}
	id := catalogID + 1
	if found && len(raw) == 4 {
		id = binary.BigEndian.Uint32(raw)
	}
	next := make([]byte, 4)
	binary.BigEndian.PutUint32(next, id+1)

	rec := kvsRecord{id: id, pfxLen: uint8(r.Uint("prefix.length")), sfxLen: uint8(r.Uint("suffix.length"))}
	b := engine.NewBatch()
	b.Set(nameKey(name), rec.encode())
	b.Set(nextIDKey, next)
	if err := db.applyPlain(op, b, nil); err != nil {
		return err
	}

	Logger.Infof("created kvs %q in %q (id=%d, prefix.length=%d)", name, db.home, id, rec.pfxLen)
	return nil
}

// KVSDrop removes a KVS and all its keys. The KVS must be closed.
func (db *KVDB) KVSDrop(name string) error {
	const op = "kvdb.kvs_drop"
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	if err := db.checkWritable(op); err != nil {
		return err
	}

	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()

	if _, open := db.open[name]; open {
		return NewError(CodeBusy, op, "kvs %q is open", name)
	}
	rec, found, err := db.lookupKVS(op, name)
	if err != nil {
		return err
	}
	if !found {
		return NewError(CodeNotFound, op, "kvs %q does not exist", name)
	}

	prefix := kvsPrefix(rec.id)
	b := engine.NewBatch()
	b.Delete(nameKey(name))
	b.DeleteRange(prefix, util.PrefixEnd(prefix))
	if err := db.applyPlain(op, b, nil); err != nil {
		return err
	}

	Logger.Infof("dropped kvs %q from %q", name, db.home)
	return nil
}

// KVSOpen opens a KVS. Params: transactions.enabled.
// A KVS can only be open once per KVDB.
func (db *KVDB) KVSOpen(name string, params ...string) (*KVS, error) {
	const op = "kvdb.kvs_open"
	if err := db.enter(op); err != nil {
		return nil, err
	}
	defer db.leave()

	if err := validateName(op, name); err != nil {
		return nil, err
	}
	p, err := ParseParams(params...)
	if err != nil {
		return nil, err
	}
	r, err := kvsOpenParams.resolve(op, p)
	if err != nil {
		return nil, err
	}

	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()

	if _, open := db.open[name]; open {
		return nil, NewError(CodeBusy, op, "kvs %q is already open", name)
	}
	rec, found, err := db.lookupKVS(op, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewError(CodeNotFound, op, "kvs %q does not exist", name)
	}

	kvs := &KVS{
		db:         db,
		name:       name,
		prefix:     kvsPrefix(rec.id),
		pfxLen:     int(rec.pfxLen),
		sfxLen:     int(rec.sfxLen),
		txnEnabled: r.Bool("transactions.enabled"),
		params:     r,
	}
	db.open[name] = kvs
	Logger.Debugf("opened kvs %q in %q", name, db.home)
	return kvs, nil
}

// KVSNames lists all KVS of the KVDB in lexicographic order
func (db *KVDB) KVSNames() ([]string, error) {
	const op = "kvdb.kvs_names"
	if err := db.enter(op); err != nil {
		return nil, err
	}
	defer db.leave()

	names, _, err := db.listKVS(op)
	return names, err
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// Compact starts a background compaction of every KVS keyspace.
// Canceling ctx stops the compaction between keyspaces, CompactStatus reports the progress.
func (db *KVDB) Compact(ctx context.Context) error {
	const op = "kvdb.compact"
	if err := db.enter(op); err != nil {
		return err
	}
	defer db.leave()

	if err := db.checkWritable(op); err != nil {
		return err
	}
	_, records, err := db.listKVS(op)
	if err != nil {
		return err
	}

	db.compactMu.Lock()
	defer db.compactMu.Unlock()

	if db.compaction.Active {
		return NewError(CodeBusy, op, "a compaction is already running")
	}

	ranges := make([][2][]byte, 0, len(records)+1)
	catalog := kvsPrefix(catalogID)
	ranges = append(ranges, [2][]byte{catalog, util.PrefixEnd(catalog)})
	for _, rec := range records {
		prefix := kvsPrefix(rec.id)
		ranges = append(ranges, [2][]byte{prefix, util.PrefixEnd(prefix)})
	}

	ctx, cancel := context.WithCancel(ctx)
	db.compactCancel = cancel
	db.compaction = CompactStatus{Active: true, Total: len(ranges), StartedAt: time.Now()}

	db.compactWG.Add(1)
	go db.runCompaction(ctx, ranges)
	return nil
}

func (db *KVDB) runCompaction(ctx context.Context, ranges [][2][]byte) {
	defer db.compactWG.Done()

	Logger.Infof("compacting %d keyspaces of %q", len(ranges), db.home)
	var err error
	canceled := false
	for _, r := range ranges {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		if err = db.eng.Compact(r[0], r[1]); err != nil {
			break
		}
		db.compactMu.Lock()
		db.compaction.Done++
		db.compactMu.Unlock()
	}

	db.compactMu.Lock()
	db.compaction.Active = false
	db.compaction.Canceled = canceled
	db.compaction.FinishedAt = time.Now()
	if err != nil {
		db.compaction.Err = engineError("kvdb.compact", err)
		Logger.Errorf("compaction of %q failed: %v", db.home, err)
	}
	db.compactCancel()
	db.compactCancel = nil
	done, total := db.compaction.Done, db.compaction.Total
	db.compactMu.Unlock()

	Logger.Infof("compaction of %q finished (%d/%d keyspaces, canceled=%t)", db.home, done, total, canceled)
}

// CompactStatus returns the status of the running or last compaction
func (db *KVDB) CompactStatus() (CompactStatus, error) {
	const op = "kvdb.compact_status"
	if err := db.enter(op); err != nil {
		return CompactStatus{}, err
	}
	defer db.leave()

	db.compactMu.Lock()
	defer db.compactMu.Unlock()
	return db.compaction, nil
}

func (db *KVDB) stopCompaction() {
	db.compactMu.Lock()
	if db.compactCancel != nil {
		db.compactCancel()
	}
	db.compactMu.Unlock()
	db.compactWG.Wait()
}
