package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ExecutionRecord holds the start and end times of one solver execution.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// ReadRecords loads the records written by solver runs started with
// --record=dir.
func ReadRecords(t *testing.T, dir string) []ExecutionRecord {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []ExecutionRecord
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		fields := strings.Fields(string(data))
		require.Len(t, fields, 2, "record %s", e.Name())
		start, err := strconv.ParseInt(fields[0], 10, 64)
		require.NoError(t, err)
		end, err := strconv.ParseInt(fields[1], 10, 64)
		require.NoError(t, err)
		out = append(out, ExecutionRecord{Start: time.Unix(0, start), End: time.Unix(0, end)})
	}
	return out
}

// MaxOverlap returns the largest number of records whose intervals overlap
// at a single instant.
func MaxOverlap(records []ExecutionRecord) int {
	type event struct {
		at    time.Time
		delta int
	}
	events := make([]event, 0, 2*len(records))
	for _, r := range records {
		events = append(events, event{r.Start, 1}, event{r.End, -1})
	}
	slices.SortFunc(events, func(a, b event) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		return a.delta - b.delta // ends before starts
	})
	cur, best := 0, 0
	for _, e := range events {
		cur += e.delta
		best = max(best, cur)
	}
	return best
}
