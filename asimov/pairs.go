package asimov

import (
	"errors"
	"fmt"
	"slices"

	"github.com/thmegy/Unfolding-sub003/model"
)

// ErrNoPair marks a constraint term without a unique nuisance parameter or
// global observable.
var ErrNoPair = errors.New("no unique nuisance/global pair")

// Pair ties a constraint term to the nuisance parameter it constrains and the
// global observable measuring it.
type Pair struct {
	Constraint model.Terminal
	Nuisance   int
	Global     int
}

// Pairs unfolds the model constraints and pairs every terminal term with a
// nuisance parameter and a global observable. Terms that cannot be paired are
// reported as warnings and skipped; only a malformed constraint graph is an
// error.
func Pairs(m *model.Model) (pairs []Pair, warnings []error, err error) {
	terms, err := m.Terminals()
	if err != nil {
		return nil, nil, err
	}
	for _, t := range terms {
		np, ok := unique(t, m.Nuisance, t.Parameter())
		if !ok {
			warnings = append(warnings, fmt.Errorf("%w: constraint %q has no nuisance parameter", ErrNoPair, t.Name()))
			continue
		}
		glob, ok := unique(t, m.Globals, t.Observable())
		if !ok {
			warnings = append(warnings, fmt.Errorf("%w: constraint %q has no global observable", ErrNoPair, t.Name()))
			continue
		}
		pairs = append(pairs, Pair{Constraint: t, Nuisance: np, Global: glob})
	}
	return pairs, warnings, nil
}

// unique returns the single member of set the term depends on. When several
// match, the term's own declared parameter breaks the tie.
func unique(t model.Terminal, set []int, declared int) (int, bool) {
	var found []int
	for _, i := range set {
		if t.DependsOn(i) {
			found = append(found, i)
		}
	}
	switch {
	case len(found) == 1:
		return found[0], true
	case len(found) > 1 && slices.Contains(found, declared):
		return declared, true
	}
	return -1, false
}
