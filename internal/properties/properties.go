// Package properties holds the attribute records produced for every run and
// the files they are stored in.
package properties

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"

	"github.com/vk/labgrid/internal/rundir"
)

// Record maps attribute names to values. Values are JSON-compatible: bool,
// float64, int, string, nil, []any or map[string]any.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Has reports whether name is present with a non-null value.
func (r Record) Has(name string) bool {
	v, ok := r[name]
	return ok && v != nil
}

// Float returns the numeric value of name. The boolean is false when the
// attribute is absent, null or not a number; a present zero returns 0, true.
func (r Record) Float(name string) (float64, bool) {
	switch v := r[name].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String returns the value of name when it is a string.
func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Strings returns the value of name as a list of strings. Non-string list
// elements are skipped.
func (r Record) Strings(name string) []string {
	switch v := r[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// AppendString appends s to the list attribute name, creating it if needed.
func (r Record) AppendString(name, s string) {
	r[name] = append(slices.Clone(r.Strings(name)), s)
}

// Marshal encodes r as indented JSON with sorted keys.
func (r Record) Marshal() ([]byte, error) {
	return marshal(r)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read loads the properties file of a run directory.
func Read(dir *rundir.RunDir) (Record, error) {
	data, err := os.ReadFile(dir.File(rundir.PropertiesFile))
	if err != nil {
		return nil, err
	}
	rec := Record{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", dir.File(rundir.PropertiesFile), err)
	}
	return rec, nil
}

// Write atomically replaces the properties file of a run directory.
func Write(dir *rundir.RunDir, rec Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("encoding properties: %w", err)
	}
	return rundir.WriteFileAtomic(dir.File(rundir.PropertiesFile), data)
}

// Combined holds the records of many runs, keyed by run id.
type Combined map[string]Record

// IDs returns the run ids in sorted order.
func (c Combined) IDs() []string {
	return slices.Sorted(maps.Keys(c))
}

// LoadCombined reads a combined properties file. A missing file yields an
// empty set.
func LoadCombined(path string) (Combined, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Combined{}, nil
	}
	if err != nil {
		return nil, err
	}
	c := Combined{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return c, nil
}

// SaveCombined atomically writes c to path.
func SaveCombined(path string, c Combined) error {
	data, err := marshal(c)
	if err != nil {
		return err
	}
	return rundir.WriteFileAtomic(path, data)
}
