package bridge

// Listener is a handle to a per-object watcher. It holds only a key and
// a generation; resolution against the manager and the identity table
// happens when a callback fires.
type Listener struct {
	ID  NativeID
	gen uint64
}

// ListenerStats counts callback outcomes.
type ListenerStats struct {
	Delivered uint64 `json:"delivered"`
	Stale     uint64 `json:"stale"`
}

// Listeners tracks which native objects currently have a live watcher.
// Loop thread only.
type Listeners struct {
	table *Table
	live  map[NativeID]uint64
	gen   uint64
	stats ListenerStats
}

func NewListeners(t *Table) *Listeners {
	return &Listeners{table: t, live: make(map[NativeID]uint64)}
}

// Attach starts watching id. A second attach for a live id is rejected.
func (m *Listeners) Attach(id NativeID) (Listener, bool) {
	if _, ok := m.live[id]; ok {
		return Listener{}, false
	}
	m.gen++
	m.live[id] = m.gen
	return Listener{ID: id, gen: m.gen}, true
}

// Detach stops l. Detaching a stale or unknown handle is a no-op.
func (m *Listeners) Detach(l Listener) bool {
	if gen, ok := m.live[l.ID]; ok && gen == l.gen {
		delete(m.live, l.ID)
		return true
	}
	return false
}

// Lookup returns the live listener for id.
func (m *Listeners) Lookup(id NativeID) (Listener, bool) {
	gen, ok := m.live[id]
	return Listener{ID: id, gen: gen}, ok
}

// Fire resolves l and its table entry and, if both are current, calls
// fn with the entry. A callback arriving after detach or teardown is
// counted as stale and dropped.
func (m *Listeners) Fire(l Listener, fn func(Tracked)) bool {
	gen, ok := m.live[l.ID]
	if !ok || gen != l.gen {
		m.stats.Stale++
		return false
	}
	obj, ok := m.table.Get(l.ID)
	if !ok {
		m.stats.Stale++
		return false
	}
	m.stats.Delivered++
	fn(obj)
	return true
}

// Deliver fires the current listener for id, if any.
func (m *Listeners) Deliver(id NativeID, fn func(Tracked)) bool {
	l, ok := m.Lookup(id)
	if !ok {
		m.stats.Stale++
		return false
	}
	return m.Fire(l, fn)
}

// DetachAll drops every listener and returns the ids that were live.
func (m *Listeners) DetachAll() []NativeID {
	ids := make([]NativeID, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	clear(m.live)
	return ids
}

func (m *Listeners) Len() int {
	return len(m.live)
}

func (m *Listeners) Stats() ListenerStats {
	return m.stats
}
