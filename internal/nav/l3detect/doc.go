// Package l3detect owns Layer 3 (Detection) of the navigation stack model.
//
// Responsibilities: the organised depth-frame model, camera-to-world
// projection, noise rejection on one horizontal scan line, and writing
// newly discovered obstacles into the working grid.
// Key types: CameraPoint, DepthFrame, Detector, ScanResult.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
package l3detect
