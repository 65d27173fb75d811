// Package memory provides a volatile engine.Engine on google/btree.
//
// All engines of the process are kept by path in the provider. Closing an engine keeps its
// data until Destroy is called, so a KVDB home can be closed and reopened within one process.
//
// Snapshots are lazy clones of the tree (copy-on-write), which makes them O(1) to take and
// safe to read while writers continue on the live tree. Iterators walk a clone, every step
// is a new descent from the last visited key.
package memory
