package collector

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ownsPIDFile reports whether pid runs in the directory holding pidFile.
// Every collector is started in its own directory, so any other working
// directory means the pid has been reused by an unrelated process.
func ownsPIDFile(pid int, pidFile string) (bool, error) {
	cwd, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "cwd"))
	if err != nil {
		return false, err
	}
	dir := filepath.Dir(pidFile)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	return cwd == dir, nil
}

// ProcessGroups maps every process group id on the system to its member
// pids, in ascending order.
func ProcessGroups() (map[int][]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	groups := make(map[int][]int)
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/proc", e.Name(), "stat"))
		if err != nil {
			// exited since the directory was listed
			continue
		}
		// the command name may contain spaces and parentheses; the fields
		// after the last ')' are state, ppid, pgrp
		stat := string(data)
		end := strings.LastIndexByte(stat, ')')
		if end < 0 {
			continue
		}
		fields := strings.Fields(stat[end+1:])
		if len(fields) < 3 {
			continue
		}
		pgid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		groups[pgid] = append(groups[pgid], pid)
	}

	for _, pids := range groups {
		slices.Sort(pids)
	}
	return groups, nil
}
