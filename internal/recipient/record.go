package recipient

// Field is one column/value pair of a record.
type Field struct {
	Name  string
	Value string
}

// Record is an ordered, read-only view of one recipient row.
type Record struct {
	columns []string
	values  []string
}

// NewRecord builds a standalone record. Extra values are ignored and
// missing values are empty.
func NewRecord(columns, values []string) Record {
	r := Record{columns: columns, values: make([]string, len(columns))}
	copy(r.values, values)
	return r
}

// Fields returns the record's pairs in column order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.columns))
	for i, c := range r.columns {
		out[i] = Field{Name: c, Value: r.values[i]}
	}
	return out
}

// Get returns the value of column name.
func (r Record) Get(name string) (string, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.values[i], true
		}
	}
	return "", false
}

// Value returns the value of column name, or "" when it is not declared.
func (r Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Vars returns the record as a map.
func (r Record) Vars() map[string]string {
	out := make(map[string]string, len(r.columns))
	for i, c := range r.columns {
		out[c] = r.values[i]
	}
	return out
}
