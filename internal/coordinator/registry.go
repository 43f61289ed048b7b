package coordinator

// registry tracks incoming file payloads. An id is either in flight,
// completed and awaiting post-processing, or absent. It is not safe for
// concurrent use; the Coordinator lock guards it.
type registry struct {
	inFlight  map[PayloadID]*Payload
	completed map[PayloadID]*Payload
}

func newRegistry() *registry {
	return &registry{
		inFlight:  make(map[PayloadID]*Payload),
		completed: make(map[PayloadID]*Payload),
	}
}

// Open registers p as in flight. It reports false if the id is already known.
func (r *registry) Open(p *Payload) bool {
	if _, ok := r.inFlight[p.ID]; ok {
		return false
	}
	if _, ok := r.completed[p.ID]; ok {
		return false
	}
	p.Status = StatusInFlight
	r.inFlight[p.ID] = p
	return true
}

// Complete moves id from in flight to completed and returns the payload.
// It returns nil when id is not in flight, which makes redelivered
// success updates no-ops.
func (r *registry) Complete(id PayloadID) *Payload {
	p, ok := r.inFlight[id]
	if !ok {
		return nil
	}
	delete(r.inFlight, id)
	p.Status = StatusCompleted
	r.completed[id] = p
	return p
}

// Fail drops id from flight without post-processing.
func (r *registry) Fail(id PayloadID) *Payload {
	p, ok := r.inFlight[id]
	if !ok {
		return nil
	}
	delete(r.inFlight, id)
	p.Status = StatusFailed
	return p
}

// Finish purges a completed payload once post-processing is done.
func (r *registry) Finish(id PayloadID) {
	delete(r.completed, id)
}

func (r *registry) InFlight(id PayloadID) (*Payload, bool) {
	p, ok := r.inFlight[id]
	return p, ok
}

// Clear abandons every in-flight payload and returns them so their handles
// can be released. Completed payloads are left to their post-processing.
func (r *registry) Clear() []*Payload {
	if len(r.inFlight) == 0 {
		return nil
	}
	dropped := make([]*Payload, 0, len(r.inFlight))
	for id, p := range r.inFlight {
		p.Status = StatusFailed
		dropped = append(dropped, p)
		delete(r.inFlight, id)
	}
	return dropped
}

func (r *registry) Len() int {
	return len(r.inFlight) + len(r.completed)
}
