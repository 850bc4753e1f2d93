// Package l2grid owns Layer 2 (Grid) of the navigation stack model.
//
// Responsibilities: the raster occupancy representation, obstacle inflation,
// the base/working layer pair and immutable snapshots handed to the planner.
// Key types: Raster, OccupancyGrid, Snapshot.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2grid
