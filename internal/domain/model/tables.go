package model

// TableSpec describes a synced table's primary-key field and any
// table-specific capture behavior (§6 Synced tables).
type TableSpec struct {
	Name       string
	PKField    string
	NeedsOrder bool // messages require order_key derived from HLC if absent
}

// DefaultTables is the fixed synced-table set (§6); host extensions are
// added per registry via TableRegistry.RegisterTable.
var DefaultTables = []TableSpec{
	{Name: "threads", PKField: "id"},
	{Name: "messages", PKField: "id", NeedsOrder: true},
	{Name: "projects", PKField: "id"},
	{Name: "posts", PKField: "id"},
	{Name: "kv", PKField: "id"},
	{Name: "file_meta", PKField: "hash"},
}

// TableRegistry resolves table specs and the KV capture blocklist, and lets
// host code extend both (§6 "Host code may extend the set via a filter
// hook").
type TableRegistry struct {
	specs     map[string]TableSpec
	kvBlocked map[string]struct{}
	extraDeny []func(table, pk string) bool
}

// NewTableRegistry builds a registry seeded with DefaultTables and an empty
// KV blocklist.
func NewTableRegistry() *TableRegistry {
	r := &TableRegistry{
		specs:     make(map[string]TableSpec, len(DefaultTables)),
		kvBlocked: make(map[string]struct{}),
	}
	for _, t := range DefaultTables {
		r.specs[t.Name] = t
	}
	return r
}

func (r *TableRegistry) Spec(table string) (TableSpec, bool) {
	s, ok := r.specs[table]
	return s, ok
}

func (r *TableRegistry) RegisterTable(spec TableSpec) {
	r.specs[spec.Name] = spec
}

// BlockKV adds a value to the kv capture blocklist (session tokens, model
// catalogs, pure caches — §6 KV capture blocklist). ShouldCapture matches
// it against the kv record's primary key (its id); the record's name field
// is not consulted.
func (r *TableRegistry) BlockKV(name string) {
	r.kvBlocked[name] = struct{}{}
}

// AddCaptureFilter registers a host-supplied predicate; returning true
// suppresses capture of that write.
func (r *TableRegistry) AddCaptureFilter(f func(table, pk string) bool) {
	r.extraDeny = append(r.extraDeny, f)
}

// ShouldCapture applies the fixed table set, the KV blocklist, and any host
// filter hooks to decide whether a write should be captured.
func (r *TableRegistry) ShouldCapture(table, pk string) bool {
	if _, ok := r.specs[table]; !ok {
		return false
	}
	if table == "kv" {
		if _, blocked := r.kvBlocked[pk]; blocked {
			return false
		}
	}
	for _, deny := range r.extraDeny {
		if deny(table, pk) {
			return false
		}
	}
	return true
}
