// Package conflict detects write-write conflicts between transactions of one KVDB.
//
// Every key written inside a transaction is claimed by the writing epoch (the owner).
// A claim fails if another active owner holds the key or if a write to the key committed
// after the claiming epoch took its snapshot. Committed writes are published with their
// commit sequence and pruned in the background once no running transaction can conflict
// with them anymore.
//
// Keys are tracked by a seeded 64 bit hash, a collision can only cause a spurious conflict.
package conflict

import (
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("conflict")

// DefaultPruneInterval is used if New is called with a zero interval
const DefaultPruneInterval = 500 * time.Millisecond

// Record is the tracked state of a single key
type Record struct {
	Owner     uint64 // The epoch currently holding the key, 0 if none
	CommitSeq uint64 // Sequence of the last committed write, 0 if never committed while tracked
}

type event struct {
	key util.UintKey
	seq uint64
}

// Tracker is the conflict table of one KVDB.
//
// Thread-safety: All methods are safe for concurrent use.
type Tracker struct {
	seed    uint64
	records *xsync.MapOf[util.UintKey, Record]

	// horizon returns the lowest snapshot sequence any running transaction reads at
	horizon func() uint64

	events   *util.LockFreeMPSC[event]
	prune    chan chan int
	interval time.Duration
	pruned   atomic.Uint64
	onPrune  func(n int)
	done     chan struct{}
	wg       sync.WaitGroup
}

// New creates a tracker and starts its pruner.
// onPrune is called after every pruning round that removed records, it may be nil.
func New(horizon func() uint64, interval time.Duration, onPrune func(n int)) *Tracker {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	t := &Tracker{
		seed:     util.GenerateSeed(),
		records:  xsync.NewMapOf[util.UintKey, Record](),
		horizon:  horizon,
		events:   util.NewLockFreeMPSC[event](),
		prune:    make(chan chan int),
		interval: interval,
		onPrune:  onPrune,
		done:     make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

func (t *Tracker) hash(key []byte) util.UintKey {
	return util.HashBytes(key, t.seed)
}

// Claim registers owner as the writer of key.
// It returns false if another owner holds the key or a write committed after startSeq.
// Claiming a key twice with the same owner succeeds.
func (t *Tracker) Claim(key []byte, owner, startSeq uint64) bool {
	ok := true
	t.records.Compute(t.hash(key), func(old Record, loaded bool) (Record, bool) {
		if !loaded {
			return Record{Owner: owner}, false
		}
		if old.Owner == owner {
			return old, false
		}
		if old.Owner != 0 || old.CommitSeq > startSeq {
			ok = false
			return old, false
		}
		old.Owner = owner
		return old, false
	})
	return ok
}

// Validate checks that owner still holds key and nothing committed to it after startSeq
func (t *Tracker) Validate(key []byte, owner, startSeq uint64) bool {
	r, ok := t.records.Load(t.hash(key))
	return ok && r.Owner == owner && r.CommitSeq <= startSeq
}

// Publish records a committed write of key at seq.
// A transactional commit (owner != 0) releases the key. A write outside of a transaction
// (owner == 0) keeps the current owner, which then fails validation.
func (t *Tracker) Publish(key []byte, owner, seq uint64) {
	h := t.hash(key)
	t.records.Compute(h, func(old Record, loaded bool) (Record, bool) {
		if owner != 0 && old.Owner == owner {
			old.Owner = 0
		}
		old.CommitSeq = seq
		return old, false
	})
	t.events.Push(&event{key: h, seq: seq})
}

// Release drops the claim of owner on key, e.g. on abort
func (t *Tracker) Release(key []byte, owner uint64) {
	h := t.hash(key)
	var seq uint64
	t.records.Compute(h, func(old Record, loaded bool) (Record, bool) {
		if !loaded || old.Owner != owner {
			return old, !loaded
		}
		if old.CommitSeq == 0 {
			return old, true
		}
		old.Owner = 0
		seq = old.CommitSeq
		return old, false
	})
	if seq != 0 {
		t.events.Push(&event{key: h, seq: seq})
	}
}

// Len returns the number of tracked keys
func (t *Tracker) Len() int {
	return t.records.Size()
}

// Pruned returns the number of records removed by the pruner so far
func (t *Tracker) Pruned() uint64 {
	return t.pruned.Load()
}

// Prune runs a pruning round now and returns the number of removed records.
// Records published concurrently may not be visible to this round yet.
func (t *Tracker) Prune() int {
	reply := make(chan int, 1)
	select {
	case t.prune <- reply:
		return <-reply
	case <-t.done:
		return 0
	}
}

// Close stops the pruner. Claims and publications after Close are still tracked but never pruned.
func (t *Tracker) Close() {
	if t.events.IsClosed() {
		return
	}
	t.events.Close()
	t.wg.Wait()
}

// --------------------------------------------------------------------------
// Pruner
// --------------------------------------------------------------------------

func (t *Tracker) run() {
	defer t.wg.Done()
	defer close(t.done)

	// committed records by commit sequence, only touched by this goroutine
	pending := util.NewMapHeap[util.UintKey]()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-t.events.Recv():
			if !ok {
				Logger.Debugf("pruner stopped with %d pending records", pending.Len())
				return
			}
			pending.Add(ev.key, ev.seq)
		case <-ticker.C:
			t.pruneRound(pending)
		case reply := <-t.prune:
			reply <- t.pruneRound(pending)
		}
	}
}

func (t *Tracker) pruneRound(pending *util.MapHeap[util.UintKey]) int {
	if pending.Len() == 0 {
		return 0
	}

	// a transaction conflicts with a record only if CommitSeq > its snapshot sequence
	limit := t.horizon()
	removed := 0
	pending.PopWhile(limit, func(key util.UintKey, seq uint64) {
		t.records.Compute(key, func(old Record, loaded bool) (Record, bool) {
			if !loaded {
				return old, true
			}
			if old.Owner == 0 && old.CommitSeq <= limit {
				removed++
				return old, true
			}
			return old, false
		})
	})

	if removed > 0 {
		t.pruned.Add(uint64(removed))
		if t.onPrune != nil {
			t.onPrune(removed)
		}
		Logger.Debugf("pruned %d conflict records (horizon %d, %d pending)", removed, limit, pending.Len())
	}
	return removed
}
