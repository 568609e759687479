// Package supervisor serializes administrative transitions over the set of
// running collectors.
//
// This package is internal to barista. A [Supervisor] is an actor: one
// goroutine ([Supervisor.Run]) owns the on/off state, the per-slot phases and
// every collector handle, and processes on, off, reload and status requests
// strictly one at a time. Collectors report unsolicited exits back to the
// same goroutine as messages, so no lock guards supervisor state.
//
// State machine:
//
//	off --on-->  on     start one collector per command
//	on  --off--> off    stop all collectors, then clear every slot
//	on  --reload-> on   restart changed, failed and restart-flagged slots only
//	off --reload-> off  replace the command list only
//
// A collector that exits on its own leaves its slot failed until the next
// reload or off/on cycle. There is no automatic respawn.
package supervisor
