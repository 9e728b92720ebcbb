// Package lifecycle defines the total order of build phases and the binding of
// work units to those phases.
//
// It is split into:
//   - Lifecycle: an immutable, totally ordered list of phases
//   - Binding: the declared work units of one project, sorted in phase order
//
// Both are configured once at startup and are safe for concurrent read access.
package lifecycle
