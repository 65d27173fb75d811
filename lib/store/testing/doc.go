// Package testing provides the conformance suite for store.IStore implementations.
//
// Example usage:
//
//	factory := func(t testing.TB) store.IStore {
//		return newMyStore(t)
//	}
//	storetesting.RunStoreTests(t, "MyStore", factory)
//
// The factory must return a store over a fresh, empty KVDB for every call.
package testing
