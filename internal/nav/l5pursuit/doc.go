// Package l5pursuit owns Layer 5 (Control) of the navigation stack model.
//
// Responsibilities: the stateless pursuit law that turns a pose and a
// look-ahead target into a saturated velocity command.
// Key types: Config, Command, Arc.
//
// Dependency rule: L5 may depend on L1 only. It knows nothing about grids,
// trees or the mission state machine.
package l5pursuit
