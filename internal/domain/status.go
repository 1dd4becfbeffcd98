package domain

import (
	"fmt"
	"math"
	"strings"
)

// Status is an ordered flood-severity tier. Higher values are more severe.
type Status int

const (
	StatusNormal Status = iota
	StatusWaspada
	StatusSiaga2
	StatusSiaga1
	StatusBahaya
)

// MaxStatus is the terminal tier; nothing is predicted beyond it.
const MaxStatus = StatusBahaya

var statusLabels = [...]string{
	StatusNormal:  "Normal",
	StatusWaspada: "Waspada",
	StatusSiaga2:  "Siaga 2",
	StatusSiaga1:  "Siaga 1",
	StatusBahaya:  "Bahaya",
}

func (s Status) String() string {
	if s < StatusNormal || s > MaxStatus {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusLabels[s]
}

// Next returns the tier strictly above s, or false when s is already terminal.
func (s Status) Next() (Status, bool) {
	if s >= MaxStatus {
		return s, false
	}
	return s + 1, true
}

// ParseStatus accepts the display label ("Siaga 1") as well as compact forms
// ("siaga1", "SIAGA_1"). Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch key {
	case "normal":
		return StatusNormal, nil
	case "waspada":
		return StatusWaspada, nil
	case "siaga2":
		return StatusSiaga2, nil
	case "siaga1":
		return StatusSiaga1, nil
	case "bahaya":
		return StatusBahaya, nil
	}
	return StatusNormal, fmt.Errorf("unknown status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	if s < StatusNormal || s > MaxStatus {
		return nil, fmt.Errorf("invalid status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Thresholds holds the minimum water level (cm) at which each non-normal tier
// begins. Values must be strictly ascending in tier order.
type Thresholds struct {
	Waspada float64 `json:"waspada"`
	Siaga2  float64 `json:"siaga2"`
	Siaga1  float64 `json:"siaga1"`
	Bahaya  float64 `json:"bahaya"`
}

// DefaultThresholds is the deployment table used when no policy file overrides it.
func DefaultThresholds() Thresholds {
	return Thresholds{Waspada: 60, Siaga2: 90, Siaga1: 120, Bahaya: 180}
}

// Min returns the lower bound of tier s. Normal starts at negative infinity.
func (t Thresholds) Min(s Status) float64 {
	switch s {
	case StatusWaspada:
		return t.Waspada
	case StatusSiaga2:
		return t.Siaga2
	case StatusSiaga1:
		return t.Siaga1
	case StatusBahaya:
		return t.Bahaya
	}
	return math.Inf(-1)
}

// Classify maps a water level to its tier, checking from the most severe tier
// down. Any level below Waspada, including negative values and NaN, is Normal.
func (t Thresholds) Classify(level float64) Status {
	for s := MaxStatus; s > StatusNormal; s-- {
		if level >= t.Min(s) {
			return s
		}
	}
	return StatusNormal
}

// Validate reports whether the table is finite and strictly ascending.
func (t Thresholds) Validate() error {
	prev := math.Inf(-1)
	for s := StatusWaspada; s <= MaxStatus; s++ {
		v := t.Min(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("threshold for %s must be finite", s)
		}
		if v <= prev {
			return fmt.Errorf("threshold for %s (%.1f) must be above the previous tier (%.1f)", s, v, prev)
		}
		prev = v
	}
	return nil
}
