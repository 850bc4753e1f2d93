// Package l1geometry owns Layer 1 (Geometry) of the navigation stack model.
//
// Responsibilities: world-frame points and poses, the bidirectional mapping
// between continuous world coordinates and discrete grid cells, and
// sub-cell sampling of straight segments.
// Key types: Point, Pose, GridCoord, GridMapping.
//
// Dependency rule: L1 depends on no other navigation layer.
package l1geometry
