// Package pebble provides the persistent engine.Engine on cockroachdb/pebble.
//
// Importing the package registers a provider for engine.ImplPebble on the OS file system.
// NewProvider accepts any pebble vfs.FS, tests use vfs.NewMem().
//
// Mapping of the engine contract:
//   - Snapshot -> pebble.Snapshot, iterators are created with LowerBound/UpperBound
//   - Apply    -> one pebble.Batch, committed with pebble.Sync when the engine is durable
//   - Sync     -> Flush of the memtable
//   - Compact  -> manual compaction of the given range
//   - GetInfo  -> disk usage, flush and compaction counters from pebble's metrics
//
// Values returned by Get are copies. Iterator keys and values point into pebble's buffers.
package pebble
