// Package l4planner owns Layer 4 (Planning) of the navigation stack model.
//
// Responsibilities: growing a randomized tree of collision-checked motions
// from the vehicle position toward a goal over a grid snapshot, extracting
// the start-to-goal path, and the bounded retry loop around it.
// Key types: Planner, Config, Tree, Result.
//
// Dependency rule: L4 may depend on L1-L2, but never on L3 or L5+.
// Planning reads only an l2grid.Snapshot, never the live working grid.
package l4planner
