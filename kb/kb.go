// Package kb holds the topology of a sensor network run: which nodes exist,
// what tier they occupy and whom they report to.
package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrInvalidTopology marks a topology that cannot be run.
var ErrInvalidTopology = errors.New("invalid topology")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodeAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Node model.NodeSpec
}

// KnowledgeBase is an in-memory, thread-safe store of node definitions.
type KnowledgeBase struct {
	mu sync.RWMutex

	nodes map[string]*model.NodeSpec
	order []string

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		nodes: make(map[string]*model.NodeSpec),
	}
}

// AddNode adds a node definition. It returns an error if the ID is empty,
// already present, or the kind is unknown.
func (kb *KnowledgeBase) AddNode(n model.NodeSpec) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node with empty id", ErrInvalidTopology)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: node %q has unknown kind %q", ErrInvalidTopology, n.ID, n.Kind)
	}

	kb.mu.Lock()
	if _, exists := kb.nodes[n.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("node with ID %q already exists", n.ID)
	}
	stored := n
	kb.nodes[n.ID] = &stored
	kb.order = append(kb.order, n.ID)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	event := Event{Type: EventNodeAdded, Node: n}
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Node returns a copy of the node with the given ID.
func (kb *KnowledgeBase) Node(id string) (model.NodeSpec, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	n, ok := kb.nodes[id]
	if !ok {
		return model.NodeSpec{}, false
	}
	return *n, true
}

// Nodes returns all node definitions in insertion order.
func (kb *KnowledgeBase) Nodes() []model.NodeSpec {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.NodeSpec, 0, len(kb.order))
	for _, id := range kb.order {
		res = append(res, *kb.nodes[id])
	}
	return res
}

// Children returns the sorted IDs of nodes whose upstream is id.
func (kb *KnowledgeBase) Children(id string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []string
	for _, n := range kb.nodes {
		if n.Upstream == id {
			res = append(res, n.ID)
		}
	}
	sort.Strings(res)
	return res
}

// Len returns the number of nodes.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// expectedUpstream is the tier each kind reports to.
var expectedUpstream = map[model.NodeKind]model.NodeKind{
	model.KindLeaf: model.KindHub,
	model.KindHub:  model.KindOrchestrator,
}

// Validate checks that every upstream reference points at a node of the tier
// above, that every filter source names a known node, and that there is at
// least one orchestrator. All problems are reported together.
func (kb *KnowledgeBase) Validate() error {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var errs []error
	orchestrators := 0
	for _, id := range kb.order {
		n := kb.nodes[id]
		if n.Kind == model.KindOrchestrator {
			orchestrators++
			if n.Upstream != "" {
				errs = append(errs, fmt.Errorf("%w: orchestrator %q must not have an upstream", ErrInvalidTopology, id))
			}
		} else {
			up, ok := kb.nodes[n.Upstream]
			switch {
			case n.Upstream == "":
				errs = append(errs, fmt.Errorf("%w: %s %q has no upstream", ErrInvalidTopology, n.Kind, id))
			case !ok:
				errs = append(errs, fmt.Errorf("%w: %s %q reports to unknown node %q", ErrInvalidTopology, n.Kind, id, n.Upstream))
			case up.Kind != expectedUpstream[n.Kind]:
				errs = append(errs, fmt.Errorf("%w: %s %q reports to %s %q, want a %s", ErrInvalidTopology, n.Kind, id, up.Kind, up.ID, expectedUpstream[n.Kind]))
			}
		}

		if n.Kind != model.KindLeaf {
			if len(n.Filters) == 0 {
				errs = append(errs, fmt.Errorf("%w: %s %q has no filter sources", ErrInvalidTopology, n.Kind, id))
			}
			sources := make([]string, 0, len(n.Filters))
			for source := range n.Filters {
				sources = append(sources, source)
			}
			sort.Strings(sources)
			for _, source := range sources {
				if _, ok := kb.nodes[source]; !ok {
					errs = append(errs, fmt.Errorf("%w: %s %q filters unknown source %q", ErrInvalidTopology, n.Kind, id, source))
				}
			}
		}
	}
	if orchestrators == 0 {
		errs = append(errs, fmt.Errorf("%w: no orchestrator", ErrInvalidTopology))
	}
	return errors.Join(errs...)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}
