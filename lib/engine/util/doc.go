// Package util provides small building blocks shared by the engines and the kvdb core.
//
// The package contains:
//   - functions: seeds, FNV-1a hashing of byte keys, prefix ranges
//   - mapheap: a min-heap addressable by key, used to schedule pruning of conflict records
//   - lockfreempsc: a lock-free multi-producer single-consumer queue feeding background goroutines
//   - statistics: a size histogram used to describe key and value sizes of a keyspace
package util
