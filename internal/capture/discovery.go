package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the Jaro-Winkler similarity a device name needs to count
// as a loose match for a hint.
const fuzzyThreshold = 0.9

// Score weights. Loopback dominates every other term; hints dominate the
// channel count, which only breaks ties between similar devices.
const (
	loopbackScore = 10000
	hintScore     = 100
	maxChannels   = 8
)

var loopbackKeywords = []string{
	"stereo mix",
	"wave out mix",
	"what u hear",
	"what you hear",
	"loopback",
	"monitor of",
	".monitor",
}

// IsLoopbackName reports whether name looks like a loopback or monitor source.
func IsLoopbackName(name string) bool {
	n := strings.ToLower(name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}

// ListCandidates returns the input-capable devices of b in enumeration order.
// Zero devices is not an error.
func ListCandidates(ctx context.Context, b Backend) ([]Device, error) {
	devs, err := b.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s devices: %w", b.Name(), err)
	}
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.Channels > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// SelectBestLoopback scores devs and returns the best loopback candidate.
// It returns false when no device is loopback-capable and no hint matched.
// Ties go to the device enumerated first.
func SelectBestLoopback(devs []Device, hints []string) (Device, bool) {
	best := -1
	bestScore := 0
	for i, d := range devs {
		if d.Channels <= 0 {
			continue
		}
		s, matched := score(d, hints)
		if !d.Loopback && !matched {
			continue
		}
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Device{}, false
	}
	return devs[best], true
}

func score(d Device, hints []string) (int, bool) {
	s := 0
	if d.Loopback {
		s += loopbackScore
	}
	matched := false
	name := strings.ToLower(d.Name)
	for i, h := range hints {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		weight := (len(hints) - i) * hintScore
		switch {
		case strings.Contains(name, h):
			s += weight
			matched = true
		case matchr.JaroWinkler(name, h, false) >= fuzzyThreshold:
			s += weight / 2
			matched = true
		default:
			continue
		}
		break
	}
	ch := d.Channels
	if ch > maxChannels {
		ch = maxChannels
	}
	return s + ch, matched
}

// Preference controls Choose.
type Preference struct {
	// Device pins a device by exact ID or case-insensitive name.
	Device string
	// Hints are substrings of preferred device names, most preferred first.
	Hints []string
	// AllowFallback selects the default input when no loopback is found.
	AllowFallback bool
}

// Choose picks the device to open from devs.
func Choose(devs []Device, pref Preference) (Device, error) {
	inputs := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.Channels > 0 {
			inputs = append(inputs, d)
		}
	}
	if len(inputs) == 0 {
		return Device{}, ErrNoDeviceFound
	}

	if pref.Device != "" {
		for _, d := range inputs {
			if d.ID == pref.Device || strings.EqualFold(d.Name, pref.Device) {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("device %q: %w", pref.Device, ErrNoDeviceFound)
	}

	if d, ok := SelectBestLoopback(inputs, pref.Hints); ok {
		return d, nil
	}
	if !pref.AllowFallback {
		return Device{}, fmt.Errorf("no loopback source among %d inputs: %w", len(inputs), ErrNoDeviceFound)
	}
	for _, d := range inputs {
		if d.Default {
			return d, nil
		}
	}
	return inputs[0], nil
}
