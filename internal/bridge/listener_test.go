package bridge

import "testing"

func TestListenerAttachRejectsDuplicate(t *testing.T) {
	tbl := NewTable()
	m := NewListeners(tbl)
	id := NativeID{Class: "node", Index: 40}

	l, ok := m.Attach(id)
	if !ok {
		t.Fatal("first Attach rejected")
	}
	if _, ok := m.Attach(id); ok {
		t.Error("second Attach for live id accepted")
	}
	if !m.Detach(l) {
		t.Error("Detach of live listener failed")
	}
	if m.Detach(l) {
		t.Error("double Detach reported success")
	}
	if _, ok := m.Attach(id); !ok {
		t.Error("Attach after Detach rejected")
	}
}

func TestListenerFireResolvesByKey(t *testing.T) {
	tbl := NewTable()
	m := NewListeners(tbl)
	id := NativeID{Class: "node", Index: 1}
	tbl.Upsert(id, fakeRecord{Name: "a", Level: 1})
	l, _ := m.Attach(id)

	tbl.Upsert(id, fakeRecord{Name: "a", Level: 2})
	var got Tracked
	if !m.Fire(l, func(obj Tracked) { got = obj }) {
		t.Fatal("Fire on live listener did not deliver")
	}
	if got.Record.(fakeRecord).Level != 2 {
		t.Errorf("delivered stale record %+v", got.Record)
	}

	// Detach then remove: a late callback is a no-op.
	m.Detach(l)
	tbl.Remove(id)
	if m.Fire(l, func(Tracked) { t.Error("callback ran after detach") }) {
		t.Error("Fire after detach delivered")
	}
	if s := m.Stats(); s.Delivered != 1 || s.Stale != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestNoDeliveriesAfterTeardown(t *testing.T) {
	tbl := NewTable()
	m := NewListeners(tbl)

	var handles []Listener
	for i := uint32(0); i < 10; i++ {
		id := NativeID{Class: "node", Index: i}
		tbl.Upsert(id, fakeRecord{Name: string(rune('a' + i))})
		l, _ := m.Attach(id)
		handles = append(handles, l)
	}

	if ids := m.DetachAll(); len(ids) != 10 {
		t.Fatalf("DetachAll returned %d ids", len(ids))
	}
	tbl.Clear()

	for _, l := range handles {
		m.Fire(l, func(Tracked) { t.Error("callback ran against cleared table") })
		m.Deliver(l.ID, func(Tracked) { t.Error("deliver ran against cleared table") })
	}
	if s := m.Stats(); s.Delivered != 0 || s.Stale != 20 {
		t.Errorf("Stats = %+v, want 0 delivered, 20 stale", s)
	}
}

func TestListenerGenerationGuardsReattach(t *testing.T) {
	tbl := NewTable()
	m := NewListeners(tbl)
	id := NativeID{Class: "node", Index: 5}
	tbl.Upsert(id, fakeRecord{Name: "a"})

	old, _ := m.Attach(id)
	m.Detach(old)
	m.Attach(id)

	if m.Fire(old, func(Tracked) {}) {
		t.Error("handle from a previous attach delivered")
	}
}
