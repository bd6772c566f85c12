//go:build !linux

package runexec

import "errors"

const watchdogSupported = false

func groupRSS(int) (int64, error) {
	return 0, errors.New("process group sampling not supported")
}
