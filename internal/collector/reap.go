package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ReapOrphans kills the process groups recorded in pid files left behind by
// a previous server that did not stop its collectors, and removes those
// files. A recorded pid that is no longer a process group leader, or whose
// process is not running in the collector's directory, is treated as stale
// and only its file is removed.
//
// Returns the number of groups killed. Individual failures are joined into
// the returned error; they never stop the scan.
func ReapOrphans(root string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pattern := filepath.Join(root, dirNameCollectors, "*", fileNamePID)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	killed := 0
	var errs []error
	for _, pidFile := range matches {
		data, err := os.ReadFile(pidFile)
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", pidFile, err))
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 1 {
			errs = append(errs, fmt.Errorf("parse %s: invalid pid %q", pidFile, data))
			_ = os.Remove(pidFile)
			continue
		}

		if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
			owned, err := ownsPIDFile(pid, pidFile)
			if err != nil || !owned {
				logger.Warn("pid file names an unrelated process, leaving it running",
					"pid", pid, "pid_file", pidFile, "error", err)
			} else {
				logger.Warn("killing orphaned collector process group", "pid", pid, "pid_file", pidFile)
				if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
					errs = append(errs, fmt.Errorf("kill process group %d: %w", pid, err))
					continue
				}
				killed++
			}
		}

		if err := os.Remove(pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", pidFile, err))
		}
	}

	return killed, errors.Join(errs...)
}
