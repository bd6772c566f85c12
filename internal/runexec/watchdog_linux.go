package runexec

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const watchdogSupported = true

var pageSize = int64(os.Getpagesize())

// groupRSS sums the resident set size in bytes of every process in the
// process group pgid.
func groupRSS(pgid int) (int64, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}
	var total int64
	found := false
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/stat")
		if err != nil {
			continue // exited meanwhile
		}
		pgrp, rss, ok := parseStat(data)
		if !ok || pgrp != pgid {
			continue
		}
		found = true
		total += rss * pageSize
	}
	if !found {
		return 0, fmt.Errorf("no process in group %d", pgid)
	}
	return total, nil
}

// parseStat extracts the process group and the resident set size in pages
// from the contents of /proc/<pid>/stat. The command name may contain spaces
// and parentheses, so fields are counted from the last ')'.
func parseStat(data []byte) (pgrp int, rssPages int64, ok bool) {
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return 0, 0, false
	}
	fields := strings.Fields(string(data[i+1:]))
	if len(fields) < 22 {
		return 0, 0, false
	}
	pgrp, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, false
	}
	rssPages, err = strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return pgrp, rssPages, true
}
