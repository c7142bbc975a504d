package domain

// Profile is an insertion-ordered mapping of collected field names to
// values. Order matters when the record is handed off for persistence.
type Profile struct {
	keys   []string
	values map[string]string
}

// NewProfile creates an empty profile.
func NewProfile() *Profile {
	return &Profile{values: make(map[string]string)}
}

// Set stores a field value, preserving first-insertion order.
func (p *Profile) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key and whether it was collected.
func (p *Profile) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Keys returns field names in insertion order.
func (p *Profile) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Map returns a copy of the underlying mapping. Callers may not mutate
// the profile through the returned map.
func (p *Profile) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Merge applies every entry of updates to the profile.
func (p *Profile) Merge(updates map[string]string) {
	for k, v := range updates {
		p.Set(k, v)
	}
}

// Len returns the number of collected fields.
func (p *Profile) Len() int {
	return len(p.keys)
}
