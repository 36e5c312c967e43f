package core

import "fmt"

// DefaultWindowSize is the smoothing window used by leaf sensors.
const DefaultWindowSize = 5

// Smoother is a bounded moving average over the most recent integer samples.
// Samples are evicted strictly oldest first once the window is full.
type Smoother struct {
	window   []int32
	capacity int
	sum      int64
}

// NewSmoother returns an empty smoother holding at most capacity samples.
func NewSmoother(capacity int) (*Smoother, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: window capacity must be positive, got %d", ErrConfiguration, capacity)
	}
	return &Smoother{
		window:   make([]int32, 0, capacity),
		capacity: capacity,
	}, nil
}

// Push appends v, evicting the oldest sample if the window overflows.
func (s *Smoother) Push(v int32) {
	if len(s.window) == s.capacity {
		s.sum -= int64(s.window[0])
		copy(s.window, s.window[1:])
		s.window = s.window[:len(s.window)-1]
	}
	s.window = append(s.window, v)
	s.sum += int64(v)
}

// Mean returns the arithmetic mean of the window. An empty window yields 0
// and ErrEmptyWindow.
func (s *Smoother) Mean() (float64, error) {
	if len(s.window) == 0 {
		return 0, ErrEmptyWindow
	}
	return float64(s.sum) / float64(len(s.window)), nil
}

// Window returns a copy of the samples in arrival order.
func (s *Smoother) Window() []int32 {
	return append([]int32(nil), s.window...)
}

// Len returns the number of samples currently held.
func (s *Smoother) Len() int { return len(s.window) }

// Cap returns the fixed window capacity.
func (s *Smoother) Cap() int { return s.capacity }
