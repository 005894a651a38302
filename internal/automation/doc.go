// Package automation holds the time-driven group operations.
//
//   - Toggler moves one group to restricted or open mode and announces it.
//   - Daily polls once a minute and toggles every managed group at the
//     configured close and open times.
//   - Sequencer runs the promotional broadcast steps against one group.
//   - Promotions fires the sequencer for every target group on each trigger.
//   - Gatekeeper handles the manual "/grupo on|off" command.
//
// All transport failures are isolated per group: they are logged, published
// on the bus and returned in reports, never propagated to sibling groups.
package automation
