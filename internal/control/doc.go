// Package control implements the bridge's command pipeline and status
// aggregation.
//
// Every command follows the same sequence: resolve the entity, acquire
// the board's address lock, build the frame, transact with the
// gateway, decode, update the derived state. The aggregator projects
// the latest snapshots onto the configured entities, grouped by room,
// applying the light inference rule and the inverted input convention.
package control
