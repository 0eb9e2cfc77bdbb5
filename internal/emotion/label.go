// Package emotion defines the closed affect label set and the score and
// prediction types passed between pipeline stages.
package emotion

import (
	"fmt"
	"strings"
)

// Label is one of the seven affect classes. The zero value is Angry; use
// ParseLabel or the constants, never a bare integer.
type Label uint8

const (
	Angry Label = iota
	Disgusted
	Fearful
	Happy
	Neutral
	Sad
	Surprised

	// NumLabels is the size of the label set.
	NumLabels = 7
)

// Labels lists every label in canonical order.
var Labels = [NumLabels]Label{Angry, Disgusted, Fearful, Happy, Neutral, Sad, Surprised}

var labelNames = [NumLabels]string{
	"angry",
	"disgusted",
	"fearful",
	"happy",
	"neutral",
	"sad",
	"surprised",
}

// String returns the lower-case label name.
func (l Label) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Label(%d)", uint8(l))
	}
	return labelNames[l]
}

// Valid reports whether l is one of the seven labels.
func (l Label) Valid() bool {
	return l < NumLabels
}

// ParseLabel returns the label with the given name (case-insensitive).
func ParseLabel(name string) (Label, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range labelNames {
		if n == name {
			return Label(i), nil
		}
	}
	return 0, fmt.Errorf("unknown emotion label %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid emotion label %d", uint8(l))
	}
	return []byte(labelNames[l]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
