package consumption

import "sync"

// Registry owns one Tracker per tank. Trackers are hydrated from the
// store on first access, before any ingest can observe them, so the
// load/first-poll race from startup resolves in load's favour.
type Registry struct {
	mu          sync.Mutex
	store       Store
	kwhPerLitre float64
	trackers    map[string]*Tracker
}

func NewRegistry(store Store, kwhPerLitre float64) *Registry {
	return &Registry{
		store:       store,
		kwhPerLitre: kwhPerLitre,
		trackers:    make(map[string]*Tracker),
	}
}

// Tracker returns the tracker for the given tank, creating and hydrating
// it on first use. An empty ID maps to the default sentinel key.
func (r *Registry) Tracker(tankID string) *Tracker {
	if tankID == "" {
		tankID = DefaultTankKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tr, ok := r.trackers[tankID]; ok {
		return tr
	}
	tr := NewTracker(tankID, r.kwhPerLitre, r.store)
	tr.Hydrate()
	r.trackers[tankID] = tr
	return tr
}

// TankIDs lists the tanks seen so far.
func (r *Registry) TankIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.trackers))
	for id := range r.trackers {
		ids = append(ids, id)
	}
	return ids
}
