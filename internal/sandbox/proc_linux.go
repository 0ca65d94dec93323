//go:build linux

package sandbox

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// clockTicks is USER_HZ, which is 100 on every Linux ABI Go supports.
const clockTicks = 100

func procUsage(pid int) Usage {
	var u Usage
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		if ticks, err := parseStatTicks(data); err == nil {
			u.TimeMs = ticks * 1000 / clockTicks
		}
	}
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid)); err == nil {
		u.PeakKB, u.CurrentKB = parseStatusMemory(data)
	}
	return u
}

// parseStatTicks returns utime+stime from a /proc/<pid>/stat line.
func parseStatTicks(data []byte) (int64, error) {
	// comm may contain spaces and parentheses; fields resume after the last ')'.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := bytes.Fields(data[end+1:])
	// fields[0] is the state, field 3 of the full line.
	const utime, stime = 14 - 3, 15 - 3
	if len(fields) <= stime {
		return 0, fmt.Errorf("stat line has %d fields", len(fields)+2)
	}
	u, err := strconv.ParseInt(string(fields[utime]), 10, 64)
	if err != nil {
		return 0, err
	}
	s, err := strconv.ParseInt(string(fields[stime]), 10, 64)
	if err != nil {
		return 0, err
	}
	return u + s, nil
}

// parseStatusMemory returns VmHWM and VmRSS in kB from /proc/<pid>/status.
func parseStatusMemory(data []byte) (peak, current int64) {
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		key, rest, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			continue
		}
		fields := bytes.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseInt(string(fields[0]), 10, 64)
		if err != nil {
			continue
		}
		switch string(key) {
		case "VmHWM":
			peak = v
		case "VmRSS":
			current = v
		}
	}
	return peak, current
}
