package queue

import (
	"container/heap"
	"time"

	"github.com/onnwee/streamfx/events"
)

// Default priorities per event type; lower renders first.
const (
	PriorityRaid       = 1
	PriorityEnvelope   = 2
	PriorityGift       = 3
	PrioritySub        = 4
	PriorityRedemption = 5
	PriorityFollow     = 6
	PriorityGreeting   = 7
	PriorityChat       = 10
)

// PriorityFor maps an event type to its default display priority.
func PriorityFor(t events.Type) int {
	switch t {
	case events.TypeRaid:
		return PriorityRaid
	case events.TypeEnvelope:
		return PriorityEnvelope
	case events.TypeGift, events.TypeGiftSub:
		return PriorityGift
	case events.TypeSub:
		return PrioritySub
	case events.TypeRedemption:
		return PriorityRedemption
	case events.TypeFollow:
		return PriorityFollow
	case events.TypeGreeting, events.TypeFarewell:
		return PriorityGreeting
	default:
		return PriorityChat
	}
}

// Item is one unit of renderer work.
type Item struct {
	Event      events.Event
	Priority   int
	EnqueuedAt time.Time

	// GoalProcessed guards the exactly-once goal update for this item.
	GoalProcessed bool

	seq   uint64 // FIFO tie-break within a priority
	index int
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*itemHeap)(nil)
