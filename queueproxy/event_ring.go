package queueproxy

// A fixed capacity ring of events that overwrites its oldest event once full.
// Not safe for concurrent use.
type eventRing struct {
	events []*queueEvent
	size   int
	start  int
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{events: make([]*queueEvent, capacity)}
}

// Returns events from oldest to newest.
func (r *eventRing) all() []*queueEvent {
	events := make([]*queueEvent, r.size)
	for i := range r.size {
		events[i] = r.events[(r.start+i)%len(r.events)]
	}
	return events
}

func (r *eventRing) len() int { return r.size }

func (r *eventRing) push(event *queueEvent) {
	if len(r.events) == 0 {
		return
	}

	if r.size < len(r.events) {
		r.events[(r.start+r.size)%len(r.events)] = event
		r.size++
		return
	}

	r.events[r.start] = event
	r.start = (r.start + 1) % len(r.events)
}
