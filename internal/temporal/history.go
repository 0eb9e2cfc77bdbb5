package temporal

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/vision"
)

// DefaultHistoryCapacity is the number of predictions a History keeps.
const DefaultHistoryCapacity = 100

// Entry is one recorded prediction together with the features it came from.
type Entry struct {
	Prediction emotion.Prediction   `json:"prediction"`
	Features   vision.FeatureVector `json:"features"`
}

// Analytics summarizes a History.
type Analytics struct {
	DominantLabel       emotion.Label `json:"dominantLabel"`
	EmotionDuration     int           `json:"emotionDuration"`
	TransitionFrequency float64       `json:"transitionFrequency"`
	AverageConfidence   float64       `json:"averageConfidence"`
	ConfidenceStability float64       `json:"confidenceStability"`
	Samples             int           `json:"samples"`
}

// History is a bounded FIFO of predictions. It is not safe for concurrent use.
type History struct {
	capacity int
	entries  []Entry
}

// NewHistory returns a History holding up to capacity entries. A
// non-positive capacity selects DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		entries:  make([]Entry, 0, capacity),
	}
}

// Append records p and fv, evicting the oldest entry when full.
func (h *History) Append(p emotion.Prediction, fv vision.FeatureVector) {
	if len(h.entries) >= h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.capacity-1]
	}
	h.entries = append(h.entries, Entry{Prediction: p, Features: fv})
}

// Snapshot returns a copy of every entry, oldest first.
func (h *History) Snapshot() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Recent returns a copy of the last n entries, oldest first.
func (h *History) Recent(n int) []Entry {
	if n > len(h.entries) {
		n = len(h.entries)
	}
	if n <= 0 {
		return []Entry{}
	}
	out := make([]Entry, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// RecentLabels returns the labels of the last n entries, oldest first.
func (h *History) RecentLabels(n int) []emotion.Label {
	recent := h.Recent(n)
	labels := make([]emotion.Label, len(recent))
	for i, e := range recent {
		labels[i] = e.Prediction.Label
	}
	return labels
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Capacity returns the maximum number of entries.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear removes every entry.
func (h *History) Clear() {
	h.entries = h.entries[:0]
}

// Analytics summarizes the recorded predictions. An empty history reports a
// neutral dominant label and zero for every numeric field.
func (h *History) Analytics() Analytics {
	n := len(h.entries)
	if n == 0 {
		return Analytics{DominantLabel: emotion.Neutral}
	}

	// Count labels, remembering the order in which each first appeared so
	// ties go to whichever label was seen first.
	var counts [emotion.NumLabels]int
	order := make([]emotion.Label, 0, emotion.NumLabels)
	confidences := make([]float64, n)
	transitions := 0
	for i, e := range h.entries {
		l := e.Prediction.Label
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
		confidences[i] = e.Prediction.Confidence
		if i > 0 && h.entries[i-1].Prediction.Label != l {
			transitions++
		}
	}

	dominant := order[0]
	for _, l := range order[1:] {
		if counts[l] > counts[dominant] {
			dominant = l
		}
	}

	duration := 0
	for i := n - 1; i >= 0 && h.entries[i].Prediction.Label == dominant; i-- {
		duration++
	}

	mean, variance := stat.PopMeanVariance(confidences, nil)

	return Analytics{
		DominantLabel:       dominant,
		EmotionDuration:     duration,
		TransitionFrequency: float64(transitions) / math.Max(1, float64(n-1)),
		AverageConfidence:   mean,
		ConfidenceStability: math.Max(0, 1-math.Sqrt(variance)),
		Samples:             n,
	}
}
