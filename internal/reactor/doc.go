// Package reactor builds a set of interdependent modules.
//
// Modules form an immutable dependency graph validated on construction.
// Execution state lives outside the graph, so one graph can be built many
// times. Ready modules are ordered by topological depth, then name; a failed
// module marks everything downstream of it as skipped.
package reactor
