package detector

import (
	"context"
	"sync"

	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
)

// MockEstimator is a test implementation of the Estimator interface.
// It allows tests to control the estimated distributions.
type MockEstimator struct {
	mu      sync.Mutex
	outputs [][]float64
	next    int
	err     error
	initErr error
	gate    <-chan struct{}
	calls   int
	inits   int
	closed  bool
}

// NewMockEstimator creates a MockEstimator that returns outputs in turn,
// repeating the last one once they run out.
func NewMockEstimator(outputs ...[]float64) *MockEstimator {
	return &MockEstimator{outputs: outputs}
}

// SetOutputs replaces the distributions returned by Estimate.
func (m *MockEstimator) SetOutputs(outputs ...[]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = outputs
	m.next = 0
}

// SetError sets the error that will be returned by Estimate.
func (m *MockEstimator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetInitError sets the error that will be returned by Init.
func (m *MockEstimator) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// SetInitGate makes Init block until gate is closed or its context ends.
func (m *MockEstimator) SetInitGate(gate <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// Init records the call and returns the configured init error.
func (m *MockEstimator) Init(ctx context.Context) error {
	m.mu.Lock()
	m.inits++
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initErr
}

// Estimate returns the next pre-configured distribution or error.
func (m *MockEstimator) Estimate(ctx context.Context, frame *raster.Frame) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.outputs) == 0 {
		return nil, nil
	}
	out := m.outputs[m.next]
	if m.next < len(m.outputs)-1 {
		m.next++
	}
	return append([]float64(nil), out...), nil
}

// Close marks the mock closed.
func (m *MockEstimator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the number of Estimate calls.
func (m *MockEstimator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inits returns the number of Init calls.
func (m *MockEstimator) Inits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inits
}

// Closed reports whether Close was called.
func (m *MockEstimator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Distribution returns a distribution in the default secondary class order
// with confidence on class and the remainder spread evenly.
func Distribution(class string, confidence float64) []float64 {
	classes := fusion.DefaultSecondaryClasses
	out := make([]float64, len(classes))
	rest := (1 - confidence) / float64(len(classes)-1)
	for i, c := range classes {
		if c == class {
			out[i] = confidence
		} else {
			out[i] = rest
		}
	}
	return out
}
