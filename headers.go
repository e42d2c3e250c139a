package tjs

import "strings"

// Headers is a case-insensitive, order-preserving multi-map of HTTP header
// fields. Lookups are canonicalized with strings.ToLower; the original
// casing of the first-seen key is kept for serialization. Get returns
// every value of a key; Joined folds them per RFC 7230 (joined by ", ").
type Headers struct {
	order  []string
	values map[string][]string
	cased  map[string]string
}

// NewHeaders returns an empty Headers.
func NewHeaders() *Headers {
	return &Headers{
		values: make(map[string][]string),
		cased:  make(map[string]string),
	}
}

func canon(key string) string {
	return strings.ToLower(key)
}

// Get returns all values associated with key, in insertion order.
func (hs *Headers) Get(key string) []string {
	return hs.values[canon(key)]
}

// First returns the first value associated with key, or "".
func (hs *Headers) First(key string) string {
	if vs := hs.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Joined returns all values associated with key joined by ", ", the form a
// consumer expects from a single logical header line ("Response
// parser").
func (hs *Headers) Joined(key string) string {
	return strings.Join(hs.Get(key), ", ")
}

// Has reports whether key has at least one value.
func (hs *Headers) Has(key string) bool {
	_, ok := hs.values[canon(key)]
	return ok
}

// Set replaces any existing values for key with value.
func (hs *Headers) Set(key, value string) {
	k := canon(key)
	if _, ok := hs.values[k]; !ok {
		hs.order = append(hs.order, k)
		hs.cased[k] = key
	}
	hs.values[k] = []string{value}
}

// Append adds value to the list for key without discarding existing values,
// preserving the order in which values were appended.
func (hs *Headers) Append(key, value string) {
	k := canon(key)
	if _, ok := hs.values[k]; !ok {
		hs.order = append(hs.order, k)
		hs.cased[k] = key
	}
	hs.values[k] = append(hs.values[k], value)
}

// Delete removes all values associated with key.
func (hs *Headers) Delete(key string) {
	k := canon(key)
	if _, ok := hs.values[k]; !ok {
		return
	}
	delete(hs.values, k)
	delete(hs.cased, k)
	for i, ok := range hs.order {
		if ok == k {
			hs.order = append(hs.order[:i], hs.order[i+1:]...)
			break
		}
	}
}

// Keys returns the header names in first-insertion order, in their
// originally-cased form.
func (hs *Headers) Keys() []string {
	keys := make([]string, len(hs.order))
	for i, k := range hs.order {
		keys[i] = hs.cased[k]
	}
	return keys
}

// Clone returns a deep copy of hs.
func (hs *Headers) Clone() *Headers {
	out := NewHeaders()
	for _, k := range hs.order {
		out.order = append(out.order, k)
		out.cased[k] = hs.cased[k]
		vs := make([]string, len(hs.values[k]))
		copy(vs, hs.values[k])
		out.values[k] = vs
	}
	return out
}

// WriteTo folds hs into the wire form "Name: value\r\n" used by the request
// builder and response writer, one line per value (not per key), in
// insertion order.
func (hs *Headers) WriteTo(sb *strings.Builder) {
	for _, k := range hs.order {
		name := hs.cased[k]
		for _, v := range hs.values[k] {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
}
