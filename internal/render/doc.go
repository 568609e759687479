// Package render turns slot values into the bar line shown to the user.
//
// This package is internal to barista. [TakeSnapshot] evaluates TTL
// freshness for every slot at a single instant, [Compose] joins the result
// with padding and separators, and [Renderer] does both on a fixed tick and
// hands the line to a [Sink]:
//
//   - [WriterSink]: one line per tick to stdout or stderr
//   - [FileSink]: atomic replacement of a file
//   - [XSetRootSink]: the X11 root window name via xsetroot
//
// Sink failures are logged and never stop the loop.
package render
