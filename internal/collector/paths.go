package collector

import (
	"fmt"
	"path/filepath"
)

const (
	dirNameCollectors = "collectors"
	fileNameLog       = "log"
	fileNamePID       = "pid"
)

// Paths locates the on-disk files owned by one collector.
type Paths struct {
	// Dir is the collector's working directory.
	Dir string
	// Log receives the command's stderr, appended across restarts.
	Log string
	// PID records the process group leader while the collector runs.
	PID string
}

// PathsFor derives the file layout for the collector at slot under root:
//
//	<root>/collectors/<slot as 2 digits>-<name>/{log,pid}
func PathsFor(root string, slot int, name string) Paths {
	dir := filepath.Join(root, dirNameCollectors, fmt.Sprintf("%02d-%s", slot, name))
	return Paths{
		Dir: dir,
		Log: filepath.Join(dir, fileNameLog),
		PID: filepath.Join(dir, fileNamePID),
	}
}
