// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the resource ceilings enforced on every run.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limits are the resource ceilings of a run. A zero field means unlimited.
type Limits struct {
	WallClock time.Duration
	// Memory is the peak resident memory ceiling in bytes.
	Memory int64
}

// Merge returns l with every non-zero field of o applied on top.
func (l Limits) Merge(o Limits) Limits {
	if o.WallClock > 0 {
		l.WallClock = o.WallClock
	}
	if o.Memory > 0 {
		l.Memory = o.Memory
	}
	return l
}

type limitsJSON struct {
	WallClock string `json:"wall_clock,omitempty"`
	Memory    int64  `json:"memory_bytes,omitempty"`
}

// MarshalJSON encodes the wall-clock limit as a duration string.
func (l Limits) MarshalJSON() ([]byte, error) {
	out := limitsJSON{Memory: l.Memory}
	if l.WallClock > 0 {
		out.WallClock = l.WallClock.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (l *Limits) UnmarshalJSON(data []byte) error {
	var in limitsJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*l = Limits{Memory: in.Memory}
	if in.WallClock != "" {
		d, err := time.ParseDuration(in.WallClock)
		if err != nil {
			return fmt.Errorf("invalid wall_clock limit: %w", err)
		}
		l.WallClock = d
	}
	return nil
}

// ParseMemory parses sizes such as "3584M", "2G", "512K" or a plain number of
// bytes. Suffixes are binary multiples.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch unit := strings.ToUpper(s[len(s)-1:]); unit {
	case "K":
		mult = 1 << 10
	case "M":
		mult = 1 << 20
	case "G":
		mult = 1 << 30
	case "T":
		mult = 1 << 40
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return int64(n * float64(mult)), nil
}

// FormatMemory renders bytes in the largest unit that divides them evenly.
func FormatMemory(b int64) string {
	for _, u := range []struct {
		suffix string
		size   int64
	}{{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10}} {
		if b >= u.size && b%u.size == 0 {
			return strconv.FormatInt(b/u.size, 10) + u.suffix
		}
	}
	return strconv.FormatInt(b, 10)
}
