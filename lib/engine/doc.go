// Package engine defines the storage contract the kvdb core is built on.
//
// An engine is an ordered byte keyspace with three capabilities:
//
//   - Isolated snapshots: a Snapshot never observes batches applied after it was taken.
//     Snapshots and iterators hold engine resources and must be closed.
//   - Atomic batches: all operations of a Batch become visible together. Range deletes are
//     applied before the point operations of the same batch, so a batch can clear a prefix
//     and write new keys under it at once.
//   - Bidirectional bounded iterators: First/Last/SeekGE/SeekLT/Next/Prev within [lower, upper).
//
// Key Components:
//
//   - Engine: point reads, snapshots, Apply, Sync, Compact, feature discovery and info.
//   - Provider: opens, probes and destroys engines of one implementation. Providers register
//     themselves from init, so importing an engine package makes it available through Lookup.
//   - Feature Flags: capabilities an implementation advertises through SupportsFeature
//     (persistence, range deletes, compaction, disk usage, ...).
//   - Info: implementation name, location, size and implementation specific metadata.
//
// Related Packages:
//
// The engines/pebble package provides the persistent engine on cockroachdb/pebble.
// The engines/memory package provides a volatile engine on copy-on-write google/btree trees,
// data survives Close within the process until the engine is destroyed.
//
// The testing package (github.com/ValentinKolb/tKV/lib/engine/testing) provides the
// conformance suite (RunEngineTests) and benchmarks (RunEngineBenchmarks) every engine runs.
//
// The util package provides hashing, a key addressable heap, a lock-free MPSC queue and a
// size histogram used by the engines and the kvdb core.
package engine
