// Package l6mission owns Layer 6 (Mission) of the navigation stack model.
//
// Responsibilities: the navigation state machine that sequences planning,
// tracking and replanning over a fixed waypoint list, the navigation
// context it mutates, and the collaborator interfaces for sensors, command
// output, vehicle placement and observation.
// Key types: Navigator, NavigationContext, State, Observer.
//
// Dependency rule: L6 may depend on L1-L5. Transports, simulators and
// renderers depend on L6, never the reverse.
package l6mission
