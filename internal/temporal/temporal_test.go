package temporal

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/vision"
)

const tol = 1e-9

func TestSmoother_SingleEntryUnchanged(t *testing.T) {
	s := NewSmoother(0)
	in := emotion.ClassScores{0.1, 0.2, 0.05, 0.3, 0.15, 0.1, 0.1}

	got := s.Smooth(in)
	assert.Equal(t, in, got)
	assert.Equal(t, DefaultWindow, s.Capacity())
}

func TestSmoother_IdenticalInputsUnchanged(t *testing.T) {
	s := NewSmoother(5)
	in := emotion.ClassScores{0.1, 0.2, 0.05, 0.3, 0.15, 0.1, 0.1}

	var got emotion.ClassScores
	for i := 0; i < 8; i++ {
		got = s.Smooth(in)
	}
	assert.InDeltaSlice(t, in[:], got[:], tol)
	assert.Equal(t, 5, s.Len())
}

func TestSmoother_RecencyWeights(t *testing.T) {
	s := NewSmoother(5)
	a := emotion.ClassScores{1, 0, 0, 0, 0, 0, 0}
	b := emotion.ClassScores{0, 0, 0, 1, 0, 0, 0}

	s.Smooth(a)
	got := s.Smooth(b)

	// Weights 1/2 and 2/2, normalized by their sum 3/2.
	assert.InDelta(t, 1.0/3, got[emotion.Angry], tol)
	assert.InDelta(t, 2.0/3, got[emotion.Happy], tol)
}

func TestSmoother_EvictsOldest(t *testing.T) {
	s := NewSmoother(2)
	s.Smooth(emotion.ClassScores{1, 0, 0, 0, 0, 0, 0})
	s.Smooth(emotion.ClassScores{0, 1, 0, 0, 0, 0, 0})
	got := s.Smooth(emotion.ClassScores{0, 0, 1, 0, 0, 0, 0})

	assert.Zero(t, got[emotion.Angry])
	assert.InDelta(t, 1.0/3, got[emotion.Disgusted], tol)
	assert.InDelta(t, 2.0/3, got[emotion.Fearful], tol)

	s.Reset()
	assert.Zero(t, s.Len())
}

func TestSmoother_OutputNormalized(t *testing.T) {
	s := NewSmoother(5)
	inputs := []emotion.ClassScores{
		{0.7, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05},
		emotion.Uniform(),
		{0, 0, 0, 0, 0, 0, 1},
		{0.2, 0.2, 0.2, 0.1, 0.1, 0.1, 0.1},
		{0, 0.5, 0, 0.5, 0, 0, 0},
		{0.3, 0.1, 0.1, 0.1, 0.1, 0.1, 0.2},
	}
	for _, in := range inputs {
		got := s.Smooth(in)
		require.True(t, got.Valid(emotion.NormTolerance), "smoothed %v", got)
	}
}

func TestCalibrator_Formula(t *testing.T) {
	c := NewCalibrator(DefaultCalibrationConfig())

	tests := []struct {
		name   string
		scores emotion.ClassScores
		recent []emotion.Label
		want   float64
	}{
		{
			name:   "confident without history",
			scores: emotion.ClassScores{0, 0, 0, 0.7, 0.2, 0.1, 0},
			// 0.7 + 0.5*0.3
			want: 0.85,
		},
		{
			name:   "stable history adds full bonus",
			scores: emotion.ClassScores{0, 0, 0, 0.6, 0.3, 0.1, 0},
			recent: []emotion.Label{emotion.Sad, emotion.Happy, emotion.Happy, emotion.Happy, emotion.Happy, emotion.Happy},
			// 0.6 + 0.3*0.3 + 5/5*0.1
			want: 0.79,
		},
		{
			name:   "mixed history counts matches of the latest label",
			scores: emotion.ClassScores{0, 0, 0, 0.6, 0.3, 0.1, 0},
			recent: []emotion.Label{emotion.Happy, emotion.Sad, emotion.Happy, emotion.Sad, emotion.Sad},
			// 0.6 + 0.09 + 3/5*0.1
			want: 0.75,
		},
		{
			name:   "short history gives no bonus",
			scores: emotion.ClassScores{0, 0, 0, 0.6, 0.3, 0.1, 0},
			recent: []emotion.Label{emotion.Happy, emotion.Happy, emotion.Happy, emotion.Happy},
			want:   0.69,
		},
		{
			name:   "below threshold is damped",
			scores: emotion.ClassScores{0.1, 0.1, 0.1, 0.4, 0.1, 0.1, 0.1},
			// (0.4 + 0.3*0.3) * 0.8
			want: 0.392,
		},
		{
			name:   "damping never goes below the floor",
			scores: emotion.Uniform(),
			want:   0.3,
		},
		{
			name:   "clamped to the ceiling",
			scores: emotion.ClassScores{0, 0, 0, 1, 0, 0, 0},
			want:   0.95,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, c.Calibrate(tt.scores, tt.recent), tol)
		})
	}
}

func TestCalibrator_Bounds(t *testing.T) {
	c := NewCalibrator(DefaultCalibrationConfig())
	inputs := []emotion.ClassScores{
		{},
		{5, 5, 5, 5, 5, 5, 5},
		{-3, 0, 0, 0, 0, 0, 0},
		{1e9, 0, 0, 0, 0, 0, 0},
		{math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()},
		{math.Inf(1), 0, 0, 0, 0, 0, 0},
	}
	for _, in := range inputs {
		got := c.Calibrate(in, nil)
		assert.GreaterOrEqual(t, got, 0.1)
		assert.LessOrEqual(t, got, 0.95)
	}
}

func prediction(l emotion.Label, conf float64, i int) emotion.Prediction {
	return emotion.Prediction{
		Label:      l,
		Confidence: conf,
		Scores:     emotion.Uniform(),
		Timestamp:  time.Unix(int64(i), 0).UTC(),
	}
}

func TestHistory_Overflow(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 150; i++ {
		h.Append(prediction(emotion.Labels[i%emotion.NumLabels], 0.5, i), vision.FeatureVector{Brightness: float64(i) / 150})
	}

	require.Equal(t, 100, h.Len())
	snap := h.Snapshot()
	for i, e := range snap {
		assert.Equal(t, time.Unix(int64(i+50), 0).UTC(), e.Prediction.Timestamp)
	}

	recent := h.RecentLabels(3)
	want := []emotion.Label{emotion.Labels[147%7], emotion.Labels[148%7], emotion.Labels[149%7]}
	if diff := cmp.Diff(want, recent); diff != "" {
		t.Errorf("RecentLabels mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_SnapshotIsCopy(t *testing.T) {
	h := NewHistory(10)
	h.Append(prediction(emotion.Happy, 0.8, 0), vision.FeatureVector{})

	snap := h.Snapshot()
	snap[0].Prediction.Label = emotion.Sad

	assert.Equal(t, emotion.Happy, h.Snapshot()[0].Prediction.Label)
	assert.Len(t, h.Recent(5), 1)
	assert.Empty(t, h.Recent(0))
}

func TestHistory_EmptyAnalytics(t *testing.T) {
	got := NewHistory(10).Analytics()
	if diff := cmp.Diff(Analytics{DominantLabel: emotion.Neutral}, got); diff != "" {
		t.Errorf("Analytics mismatch (-want +got):\n%s", diff)
	}
}

func TestHistory_Analytics(t *testing.T) {
	h := NewHistory(10)
	seq := []struct {
		label emotion.Label
		conf  float64
	}{
		{emotion.Sad, 0.4},
		{emotion.Happy, 0.6},
		{emotion.Happy, 0.8},
		{emotion.Sad, 0.4},
		{emotion.Happy, 0.6},
		{emotion.Happy, 0.8},
	}
	for i, s := range seq {
		h.Append(prediction(s.label, s.conf, i), vision.FeatureVector{})
	}

	got := h.Analytics()
	assert.Equal(t, emotion.Happy, got.DominantLabel)
	assert.Equal(t, 2, got.EmotionDuration)
	assert.InDelta(t, 3.0/5, got.TransitionFrequency, tol)
	assert.InDelta(t, 0.6, got.AverageConfidence, tol)

	// Population variance of {0.4,0.6,0.8} repeated is 0.08/3.
	assert.InDelta(t, 1-math.Sqrt(0.08/3), got.ConfidenceStability, tol)
	assert.Equal(t, 6, got.Samples)
}

func TestHistory_AnalyticsTieBreak(t *testing.T) {
	h := NewHistory(10)
	for i, l := range []emotion.Label{emotion.Surprised, emotion.Angry, emotion.Angry, emotion.Surprised} {
		h.Append(prediction(l, 0.5, i), vision.FeatureVector{})
	}

	got := h.Analytics()
	// Surprised appeared first; a tie does not displace it.
	assert.Equal(t, emotion.Surprised, got.DominantLabel)
	assert.Equal(t, 1, got.EmotionDuration)
	assert.InDelta(t, 1.0, got.ConfidenceStability, tol)
}

func TestHistory_DurationStopsAtMismatch(t *testing.T) {
	h := NewHistory(10)
	for i, l := range []emotion.Label{emotion.Happy, emotion.Happy, emotion.Happy, emotion.Sad} {
		h.Append(prediction(l, 0.5, i), vision.FeatureVector{})
	}

	got := h.Analytics()
	assert.Equal(t, emotion.Happy, got.DominantLabel)
	assert.Zero(t, got.EmotionDuration)

	h.Clear()
	assert.Zero(t, h.Len())
}
