// Package memory defines the persistence boundary for retained capability
// results. The engine sanitizes every result before handing it to a Writer;
// implementations never see raw tool output.
//
// The in-memory store below is the reference backend for tests and demos.
// Production deployments plug in a durable store (database, vector index)
// behind the same Writer and Store contracts.
package memory
