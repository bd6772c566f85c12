package hcl

import (
	"fmt"
	"math/big"
	"time"

	"github.com/vk/labgrid/internal/model"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// durationValue reads a duration given either as seconds or as a duration
// string such as "5m".
func durationValue(v *cty.Value, name string) (time.Duration, error) {
	if v == nil || v.IsNull() {
		return 0, nil
	}
	switch v.Type() {
	case cty.Number:
		var secs float64
		if err := gocty.FromCtyValue(*v, &secs); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return time.Duration(secs * float64(time.Second)), nil
	case cty.String:
		d, err := time.ParseDuration(v.AsString())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("%s: expected number or string, got %s", name, v.Type().FriendlyName())
}

// memoryValue reads a size given either as bytes or as a string such as
// "3584M".
func memoryValue(v *cty.Value, name string) (int64, error) {
	if v == nil || v.IsNull() {
		return 0, nil
	}
	switch v.Type() {
	case cty.Number:
		n, acc := v.AsBigFloat().Int64()
		if acc != big.Exact || n < 0 {
			return 0, fmt.Errorf("%s: expected a non-negative whole number of bytes", name)
		}
		return n, nil
	case cty.String:
		n, err := model.ParseMemory(v.AsString())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%s: expected number or string, got %s", name, v.Type().FriendlyName())
}

func translateLimits(b *limitsBlock) (model.Limits, error) {
	if b == nil {
		return model.Limits{}, nil
	}
	wall, err := durationValue(b.WallClock, "wall_clock")
	if err != nil {
		return model.Limits{}, err
	}
	mem, err := memoryValue(b.Memory, "memory")
	if err != nil {
		return model.Limits{}, err
	}
	return model.Limits{WallClock: wall, Memory: mem}, nil
}
