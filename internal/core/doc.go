// Package core provides the phase-aware build cache: the record model, the
// restore/extend engine and the artifact handling around it.
//
// # Design Principles
//
//  1. A record is keyed by (project, checksum) and never regresses: its
//     highest phase only moves forward and stored outputs are never dropped
//     by a merge.
//  2. Every build call is a function of (project, checksum, requested phase,
//     existing record). There is no process-wide cache state.
//  3. Cacheability of outputs is a static declaration. The engine never
//     infers it.
//
// # Core Types
//
// CacheRecord: the persisted, monotonically extensible result of a build.
// Engine: drives lookup, restore, remainder execution and save.
// Store: persistence contract implemented by internal/store.
// Harvester / Restorer: capture outputs from, and write them back into, a
// workspace.
package core
