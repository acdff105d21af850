package bridge

// Table maps native IDs to tracked records for one session. It is only
// touched from the loop thread and is not safe for concurrent use.
type Table struct {
	byNative map[NativeID]Tracked
	byDomain map[string]NativeID
}

func NewTable() *Table {
	return &Table{
		byNative: make(map[NativeID]Tracked),
		byDomain: make(map[string]NativeID),
	}
}

// Upsert inserts or replaces the record for id. The domain ID assigned
// on insert is kept for the life of the entry even if later records
// report a different one.
func (t *Table) Upsert(id NativeID, rec Record) (domainID string, created bool) {
	if cur, ok := t.byNative[id]; ok {
		cur.Record = rec
		t.byNative[id] = cur
		return cur.DomainID, false
	}
	domainID = rec.DomainID()
	t.byNative[id] = Tracked{NativeID: id, DomainID: domainID, Record: rec}
	t.byDomain[domainID] = id
	return domainID, true
}

// Remove deletes id. Unknown ids are a no-op and report ok=false.
func (t *Table) Remove(id NativeID) (domainID string, ok bool) {
	cur, ok := t.byNative[id]
	if !ok {
		return "", false
	}
	delete(t.byNative, id)
	if t.byDomain[cur.DomainID] == id {
		delete(t.byDomain, cur.DomainID)
	}
	return cur.DomainID, true
}

func (t *Table) Get(id NativeID) (Tracked, bool) {
	cur, ok := t.byNative[id]
	return cur, ok
}

// Lookup resolves a domain ID to its current entry.
func (t *Table) Lookup(domainID string) (Tracked, bool) {
	id, ok := t.byDomain[domainID]
	if !ok {
		return Tracked{}, false
	}
	return t.Get(id)
}

func (t *Table) Len() int {
	return len(t.byNative)
}

// Each calls fn for every entry in unspecified order. fn must not
// mutate the table.
func (t *Table) Each(fn func(Tracked)) {
	for _, cur := range t.byNative {
		fn(cur)
	}
}

// Clear drops every entry.
func (t *Table) Clear() {
	clear(t.byNative)
	clear(t.byDomain)
}
