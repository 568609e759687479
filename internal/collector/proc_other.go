//go:build unix && !linux

package collector

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"
)

// lstartLayout is the format of ps's lstart column in the C locale.
const lstartLayout = "Mon Jan _2 15:04:05 2006"

// ownsPIDFile reports whether pid was already running when pidFile was
// last written. A process started after its pid file cannot be the one the
// file records.
func ownsPIDFile(pid int, pidFile string) (bool, error) {
	fi, err := os.Stat(pidFile)
	if err != nil {
		return false, err
	}

	cmd := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid))
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("ps: %w", err)
	}
	started, err := time.ParseInLocation(lstartLayout, strings.TrimSpace(string(out)), time.Local)
	if err != nil {
		return false, fmt.Errorf("parse start time %q: %w", out, err)
	}

	// lstart has one second resolution
	return !started.After(fi.ModTime().Add(time.Second)), nil
}

// ProcessGroups maps every process group id on the system to its member
// pids, in ascending order.
func ProcessGroups() (map[int][]int, error) {
	out, err := exec.Command("ps", "-eo", "pid=,pgid=").Output()
	if err != nil {
		return nil, fmt.Errorf("ps: %w", err)
	}

	groups := make(map[int][]int)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		pgid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		groups[pgid] = append(groups[pgid], pid)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, pids := range groups {
		slices.Sort(pids)
	}
	return groups, nil
}
