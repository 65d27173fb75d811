// Package testing provides a conformance suite and benchmarks for engine.Engine implementations.
//
// Every engine package runs the same suite from its own tests:
//
//	func Test(t *testing.T) {
//	    enginetesting.RunEngineTests(t, "Memory", func(t testing.TB) engine.Engine { ... })
//	}
//
// The suite covers point reads and writes, empty values, range deletes (and their ordering
// before point writes of the same batch), snapshot isolation, bounded iteration in both
// directions, seeking, concurrent writers and behavior after Close. Tests for optional
// capabilities are skipped when the engine does not advertise the matching engine.Feature.
package testing
