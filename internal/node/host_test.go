package node

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

type sent struct {
	msg model.Message
	to  model.Destination
}

// fakeHost records sends and timers without any scheduling.
type fakeHost struct {
	id      string
	now     time.Time
	counter int
	timers  map[string]time.Time
	outbox  []sent
	ints    []int
	bounds  [][2]int
	sendErr error
}

func newFakeHost(id string) *fakeHost {
	return &fakeHost{id: id, now: time.Unix(0, 0), timers: make(map[string]time.Time)}
}

func (h *fakeHost) Now() time.Time { return h.now }

func (h *fakeHost) ScheduleTimer(name string, at time.Time) string {
	h.counter++
	id := fmt.Sprintf("%s-%d", name, h.counter)
	h.timers[id] = at
	return id
}

func (h *fakeHost) Cancel(id string) { delete(h.timers, id) }

func (h *fakeHost) Send(msg model.Message, to model.Destination) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	msg.Source = h.id
	h.outbox = append(h.outbox, sent{msg: msg, to: to})
	return nil
}

// RandomInt replays h.ints in order, then returns low.
func (h *fakeHost) RandomInt(low, high int) int {
	h.bounds = append(h.bounds, [2]int{low, high})
	if len(h.ints) == 0 {
		return low
	}
	v := h.ints[0]
	h.ints = h.ints[1:]
	return v
}

func (h *fakeHost) RandomReal(low, high float64) float64 { return low }

// pendingTimer returns the only pending timer, failing if there is not
// exactly one.
func (h *fakeHost) pendingTimer() (string, time.Time, bool) {
	if len(h.timers) != 1 {
		return "", time.Time{}, false
	}
	for id, at := range h.timers {
		return id, at, true
	}
	return "", time.Time{}, false
}

func message(source, payload string) model.Event {
	return model.Event{Kind: model.EventMessage, Message: model.Message{Source: source, Payload: payload}}
}

func start() model.Event { return model.Event{Kind: model.EventStart} }

type countingRecorder struct {
	received, forwarded, handshakes, decays int
	dropped                                 map[string]int
	errors                                  []float64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dropped: make(map[string]int)}
}

func (r *countingRecorder) MessageReceived(string) { r.received++ }

func (r *countingRecorder) MessageForwarded(string) { r.forwarded++ }

func (r *countingRecorder) MessageDropped(_, reason string) { r.dropped[reason]++ }

func (r *countingRecorder) HandshakeSent(string) { r.handshakes++ }

func (r *countingRecorder) PredictionError(_, _ string, v float64) { r.errors = append(r.errors, v) }

func (r *countingRecorder) DecayFired(string, float64) { r.decays++ }
