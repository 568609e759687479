// Package collector runs the external commands that feed bar slots.
//
// This package is internal to barista. A [Collector] owns exactly one child
// process group: it spawns "<shell> -c <command>", forwards every line the
// command writes to stdout into its slot through a [Writer], appends stderr
// to a per-collector log file and terminates the group on [Collector.Stop].
//
// Collectors never restart themselves. When a process exits on its own the
// collector reports it once through [Options.OnExit] and leaves the decision
// to its owner.
//
// On-disk layout, per collector:
//
//	<dir>/collectors/NN-name/log   stderr, appended
//	<dir>/collectors/NN-name/pid   process group id while running
//
// [ReapOrphans] uses the pid files to clean up after a server that died
// without stopping its collectors.
package collector
