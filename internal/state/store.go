// Package state keeps a consumer-side projection of bridge events: the
// objects and signals each subsystem currently reports, plus session
// health.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

// Object is one mirrored domain object.
type Object struct {
	ID        string        `json:"id" cbor:"id"`
	Record    bridge.Record `json:"record" cbor:"record"`
	UpdatedAt time.Time     `json:"updated_at" cbor:"updated_at"`
}

// Subsystem is the mirrored state of one subsystem.
type Subsystem struct {
	Name            string         `json:"name" cbor:"name"`
	Objects         []Object       `json:"objects" cbor:"objects"`
	Signals         map[string]any `json:"signals" cbor:"signals"`
	DroppedCommands int            `json:"dropped_commands" cbor:"dropped_commands"`
	LastDropReason  string         `json:"last_drop_reason,omitempty" cbor:"last_drop_reason,omitempty"`
	Health          Health         `json:"health" cbor:"health"`
}

type Snapshot struct {
	Subsystems []Subsystem `json:"subsystems" cbor:"subsystems"`
	Time       time.Time   `json:"time" cbor:"time"`
}

type subsystemState struct {
	objects  map[string]Object
	signals  map[string]any
	dropped  int
	lastDrop string
	health   *sessionHealth
}

func newSubsystemState() *subsystemState {
	return &subsystemState{
		objects: make(map[string]Object),
		signals: make(map[string]any),
		health:  newSessionHealth(),
	}
}

func (s *subsystemState) reset() {
	clear(s.objects)
	clear(s.signals)
}

type Store struct {
	mu         sync.RWMutex
	subsystems map[string]*subsystemState
	threshold  int
}

// NewStore returns an empty store. threshold is the number of
// consecutive session failures that mark a subsystem failed; values
// below 1 use DefaultFailureThreshold.
func NewStore(threshold int) *Store {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	return &Store{
		subsystems: make(map[string]*subsystemState),
		threshold:  threshold,
	}
}

// Register makes a subsystem visible before its first event.
func (s *Store) Register(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subsystemLocked(name)
}

func (s *Store) subsystemLocked(name string) *subsystemState {
	st, ok := s.subsystems[name]
	if !ok {
		st = newSubsystemState()
		s.subsystems[name] = st
	}
	return st
}

// Apply folds ev into the projection. It returns the subsystem health
// and whether its status changed as a result.
func (s *Store) Apply(ev bridge.Event) (Health, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.subsystemLocked(ev.Subsystem)
	switch ev.Kind {
	case bridge.EventAdded, bridge.EventUpdated:
		st.objects[ev.DomainID] = Object{ID: ev.DomainID, Record: ev.Record, UpdatedAt: ev.Time}
	case bridge.EventRemoved:
		delete(st.objects, ev.DomainID)
	case bridge.EventSignal:
		st.signals[ev.Signal] = ev.Value
	case bridge.EventCommandDropped:
		st.dropped++
		st.lastDrop = ev.Reason
	case bridge.EventSessionStarted:
		st.reset()
		st.health.recordStart(ev.Session)
	case bridge.EventSessionSubscribed:
		st.health.recordSubscribed()
	case bridge.EventSessionError:
		// The bridge cleared its table; nothing it reported is current.
		st.reset()
		st.health.recordFailure(ev.Reason, ev.Time)
	}
	return st.health.snapshotAndEmit(ev.Subsystem, s.threshold)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.subsystems))
	for name := range s.subsystems {
		names = append(names, name)
	}
	sort.Strings(names)

	snap := Snapshot{Subsystems: make([]Subsystem, 0, len(names)), Time: time.Now()}
	for _, name := range names {
		snap.Subsystems = append(snap.Subsystems, s.subsystemSnapshotLocked(name))
	}
	return snap
}

func (s *Store) Subsystem(name string) (Subsystem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.subsystems[name]; !ok {
		return Subsystem{}, false
	}
	return s.subsystemSnapshotLocked(name), true
}

func (s *Store) subsystemSnapshotLocked(name string) Subsystem {
	st := s.subsystems[name]
	objects := make([]Object, 0, len(st.objects))
	for _, obj := range st.objects {
		objects = append(objects, obj)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].ID < objects[j].ID })

	signals := make(map[string]any, len(st.signals))
	for k, v := range st.signals {
		signals[k] = v
	}
	return Subsystem{
		Name:            name,
		Objects:         objects,
		Signals:         signals,
		DroppedCommands: st.dropped,
		LastDropReason:  st.lastDrop,
		Health:          st.health.snapshot(name, s.threshold),
	}
}

// Health returns the health of every subsystem, sorted by name.
func (s *Store) Health() []Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Health, 0, len(s.subsystems))
	for name, st := range s.subsystems {
		out = append(out, st.health.snapshot(name, s.threshold))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}
