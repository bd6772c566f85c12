package runexec

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStat(t *testing.T) {
	line := "1234 (a (weird) name) S 1 1230 1230 0 -1 4194304 100 0 0 0 1 2 0 0 20 0 1 0 5 123456 789 18446744073709551615"
	pgrp, rss, ok := parseStat([]byte(line))
	require.True(t, ok)
	assert.Equal(t, 1230, pgrp)
	assert.Equal(t, int64(789), rss)

	_, _, ok = parseStat([]byte("garbage"))
	assert.False(t, ok)
	_, _, ok = parseStat([]byte("1 (x) S 1"))
	assert.False(t, ok)
}

func TestGroupRSS_OwnGroup(t *testing.T) {
	rss, err := groupRSS(syscall.Getpgrp())
	require.NoError(t, err)
	assert.Positive(t, rss)

	_, err = groupRSS(1 << 30)
	assert.Error(t, err)
}
