package kvdb

import (
	"bytes"
	"encoding/binary"
	"github.com/ValentinKolb/tKV/lib/engine"
	"github.com/ValentinKolb/tKV/lib/engine/util"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Keyspace Layout
// --------------------------------------------------------------------------
//
// All KVS of a KVDB share one engine keyspace. Every key starts with the 4 byte big endian
// id of its KVS. Id 0 is the catalog:
//
//	[0 0 0 0] 'm'         -> format version
//	[0 0 0 0] 'n'         -> next free KVS id
//	[0 0 0 0] 'k' <name>  -> kvsRecord

const (
	catalogID     uint32 = 0
	formatVersion byte   = 1
	kvsIDLen             = 4
)

var (
	metaKey   = []byte{0, 0, 0, 0, 'm'}
	nextIDKey = []byte{0, 0, 0, 0, 'n'}
	namesKey  = []byte{0, 0, 0, 0, 'k'}
)

func kvsPrefix(id uint32) []byte {
	b := make([]byte, kvsIDLen)
	binary.BigEndian.PutUint32(b, id)
	return b
}

func nameKey(name string) []byte {
	return util.Concat(namesKey, []byte(name))
}

// encodeKey returns the engine key of key in the KVS with the given prefix
func encodeKey(prefix, key []byte) []byte {
	return util.Concat(prefix, key)
}

// userKey strips the KVS id from an engine key
func userKey(full []byte) []byte {
	return full[kvsIDLen:]
}

// successor returns the smallest key greater than key
func successor(key []byte) []byte {
	return append(bytes.Clone(key), 0)
}

// kvsRecord is the catalog entry of a KVS
type kvsRecord struct {
	id     uint32
	pfxLen uint8
	sfxLen uint8
}

func (r kvsRecord) encode() []byte {
	b := make([]byte, 7)
	b[0] = formatVersion
	binary.BigEndian.PutUint32(b[1:5], r.id)
	b[5] = r.pfxLen
	b[6] = r.sfxLen
	return b
}

func decodeKVSRecord(b []byte) (kvsRecord, bool) {
	if len(b) != 7 || b[0] != formatVersion {
		return kvsRecord{}, false
	}
	return kvsRecord{id: binary.BigEndian.Uint32(b[1:5]), pfxLen: b[5], sfxLen: b[6]}, true
}

// --------------------------------------------------------------------------
// Shared Snapshots
// --------------------------------------------------------------------------

// snapRef is a reference counted engine snapshot.
// A transaction and the cursors bound to it share the snapshot taken at begin.
type snapRef struct {
	snap engine.Snapshot
	seq  uint64
	refs atomic.Int32
}

func newSnapRef(snap engine.Snapshot, seq uint64) *snapRef {
	s := &snapRef{snap: snap, seq: seq}
	s.refs.Store(1)
	return s
}

func (s *snapRef) acquire() *snapRef {
	s.refs.Add(1)
	return s
}

// release drops one reference and closes the snapshot with the last one
func (s *snapRef) release() {
	if s.refs.Add(-1) == 0 {
		if err := s.snap.Close(); err != nil {
			Logger.Warningf("failed to close snapshot at seq %d: %v", s.seq, err)
		}
	}
}
