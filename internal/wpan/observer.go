package wpan

import "time"

// ChangeKind classifies an observed state change.
type ChangeKind string

// Change kinds.
const (
	ChangeDiscovered ChangeKind = "discovered"
	ChangeProperty   ChangeKind = "property"
	ChangeLink       ChangeKind = "link"
	ChangeRejected   ChangeKind = "rejected"
)

// Change is one state change seen by the dispatch loop.
type Change struct {
	Kind     ChangeKind
	Entity   EntityRef
	Property string
	Value    any

	// Reason is set for ChangeRejected.
	Reason string

	Time time.Time
}

// Observer receives every Change. Observe is called from the dispatch loop
// and must not block.
type Observer interface {
	Observe(c Change)
}

// Observers fans a Change out to several observers in order.
type Observers []Observer

// Observe implements Observer.
func (o Observers) Observe(c Change) {
	for _, obs := range o {
		obs.Observe(c)
	}
}

// ReadyNotifier is told once about every entry that completes discovery,
// so it can publish the object. It is called from the dispatch loop and
// must not block or call back into the Engine synchronously.
type ReadyNotifier interface {
	OnEntityReady(ref EntityRef)
}
