// Package syncmap provides a typed wrapper around [sync.Map] for the pool loader's concurrent
// per-name bookkeeping.
package syncmap

import "sync"

// Map is a [sync.Map] with keys of type K and values of type V.  The zero Map is empty and ready
// for use.
type Map[K comparable, V any] struct {
	m sync.Map
}

// LoadOrStore returns the existing value for k if present.  Otherwise it stores and returns v.
// The boolean is true if the value was loaded.
func (m *Map[K, V]) LoadOrStore(k K, v V) (V, bool) {
	vAny, loaded := m.m.LoadOrStore(k, v)
	return vAny.(V), loaded
}

// Load returns the value stored for k, or the zero value if there is none.
func (m *Map[K, V]) Load(k K) (V, bool) {
	vAny, ok := m.m.Load(k)
	if !ok {
		return *new(V), false
	}
	return vAny.(V), true
}

// Range calls f for each entry until f returns false.
func (m *Map[K, V]) Range(f func(K, V) bool) {
	m.m.Range(func(k, v any) bool { return f(k.(K), v.(V)) })
}

// ToMap returns a snapshot of the entries.
func (m *Map[K, V]) ToMap() map[K]V {
	ret := map[K]V{}
	m.Range(func(k K, v V) bool {
		ret[k] = v
		return true
	})
	return ret
}
