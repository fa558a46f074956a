package snapshot

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/thmegy/Unfolding-sub003/model"
)

// Labels of the snapshots shared by the Asimov builder and the limit solver.
const (
	NominalGlobs     = "nominalGlobs"
	NominalNuis      = "nominalNuis"
	ConditionalGlobs = "conditionalGlobs"
	ConditionalNuis  = "conditionalNuis"
)

// POIScale is the resolution of POI values in keys.
const POIScale = 1e9

// ErrUnknownSnapshot is returned by Load for keys that were never saved.
var ErrUnknownSnapshot = errors.New("unknown snapshot")

// Key identifies a snapshot. POI values are rounded to 1e-9 so that values
// computed along different paths share a key.
type Key struct {
	Label   string
	Binding uuid.UUID
	POI     int64
	hasPOI  bool
}

// Named returns the key of a plain named snapshot.
func Named(label string) Key {
	return Key{Label: label}
}

// Conditional returns the key of a named snapshot taken at a POI value.
func Conditional(label string, mu float64) Key {
	return Key{Label: label, POI: RoundPOI(mu), hasPOI: true}
}

// ForBinding returns the key of the snapshot of an NLL binding at a POI value.
func ForBinding(id uuid.UUID, mu float64) Key {
	return Key{Binding: id, POI: RoundPOI(mu), hasPOI: true}
}

// RoundPOI converts a POI value to its key representation.
func RoundPOI(mu float64) int64 {
	if math.IsNaN(mu) {
		return math.MinInt64
	}
	return int64(math.Round(mu * POIScale))
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	name := k.Label
	if k.Binding != uuid.Nil {
		name = k.Binding.String()
		if k.Label != "" {
			name = k.Label + "@" + name
		}
	}
	if k.hasPOI {
		return fmt.Sprintf("%s_%g", name, float64(k.POI)/POIScale)
	}
	return name
}

type state struct {
	idx    []int
	values []float64
}

// Store maps keys to captured parameter values. It lives for the duration of
// a run and is not safe for concurrent use; see Clone.
type Store struct {
	states map[Key]state
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{states: make(map[Key]state)}
}

// Save captures the current values of the parameters in idx under key,
// replacing any previous snapshot with that key. An empty or nil idx saves an
// empty snapshot, which loads without touching any parameter.
func (s *Store) Save(key Key, params *model.Parameters, idx []int) {
	st := state{idx: make([]int, len(idx)), values: make([]float64, len(idx))}
	copy(st.idx, idx)
	for k, i := range idx {
		st.values[k] = params.Value(i)
	}
	s.states[key] = st
}

// SaveAll captures every parameter of the arena under key.
func (s *Store) SaveAll(key Key, params *model.Parameters) {
	idx := make([]int, params.Len())
	for i := range idx {
		idx[i] = i
	}
	s.Save(key, params, idx)
}

// Load restores the parameters captured under key. Unknown keys leave params
// untouched and return ErrUnknownSnapshot.
func (s *Store) Load(key Key, params *model.Parameters) error {
	st, ok := s.states[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSnapshot, key)
	}
	for k, i := range st.idx {
		params.Set(i, st.values[k])
	}
	return nil
}

// LoadOrSave loads key, or saves the current values of idx under it when it
// is unknown. It reports whether the snapshot existed.
func (s *Store) LoadOrSave(key Key, params *model.Parameters, idx []int) bool {
	if err := s.Load(key, params); err == nil {
		return true
	}
	s.Save(key, params, idx)
	return false
}

// Values returns the captured values of key by parameter index.
func (s *Store) Values(key Key) (map[int]float64, bool) {
	st, ok := s.states[key]
	if !ok {
		return nil, false
	}
	out := make(map[int]float64, len(st.idx))
	for k, i := range st.idx {
		out[i] = st.values[k]
	}
	return out, true
}

// Has reports whether key has been saved.
func (s *Store) Has(key Key) bool {
	_, ok := s.states[key]
	return ok
}

// Len returns the number of snapshots.
func (s *Store) Len() int {
	return len(s.states)
}

// Clone returns an independent copy of the store.
func (s *Store) Clone() *Store {
	c := NewStore()
	for k, st := range s.states {
		c.states[k] = st
	}
	return c
}
