package stats

import (
	"sort"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// entity accumulates everything known about one deduplicated certifier or
// training centre.
type entity struct {
	key      string
	names    []string
	nameSet  map[string]struct{}
	typ      renec.CertifierType
	states   []string
	stateSet map[string]struct{}
	codes    []string
	codeSet  map[string]struct{}
}

// tally groups entities by normalised name in first-discovery order.
type tally struct {
	order []*entity
	byKey map[string]*entity
}

func newTally() *tally {
	return &tally{byKey: make(map[string]*entity)}
}

// add records that name appears under code. It reports whether this is a new
// (entity, code) association; an empty normalised name is ignored.
func (t *tally) add(name, code, state string, typ renec.CertifierType) bool {
	key := NormalizeName(name)
	if key == "" {
		return false
	}
	e, ok := t.byKey[key]
	if !ok {
		e = &entity{
			key:      key,
			nameSet:  make(map[string]struct{}),
			stateSet: make(map[string]struct{}),
			codeSet:  make(map[string]struct{}),
			typ:      renec.CertifierUnknown,
		}
		t.byKey[key] = e
		t.order = append(t.order, e)
	}
	if _, seen := e.nameSet[name]; !seen {
		e.nameSet[name] = struct{}{}
		e.names = append(e.names, name)
	}
	if e.typ == renec.CertifierUnknown && typ != "" {
		e.typ = typ
	}
	if state != "" {
		if _, seen := e.stateSet[state]; !seen {
			e.stateSet[state] = struct{}{}
			e.states = append(e.states, state)
		}
	}
	if _, seen := e.codeSet[code]; seen {
		return false
	}
	e.codeSet[code] = struct{}{}
	e.codes = append(e.codes, code)
	return true
}

// ranked returns the entities ordered by distinct EC count, descending. Ties
// keep first-discovery order.
func (t *tally) ranked() []*entity {
	out := append([]*entity(nil), t.order...)
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i].codes) > len(out[j].codes)
	})
	return out
}

func certifierTally(corpus renec.Corpus) *tally {
	t := newTally()
	for _, std := range corpus.Standards {
		for _, c := range std.Certifiers {
			t.add(c.Name, std.Code, c.State, c.Classification())
		}
	}
	return t
}

func trainingTally(corpus renec.Corpus) *tally {
	t := newTally()
	for _, std := range corpus.Standards {
		for _, c := range std.TrainingCenters {
			t.add(c.Name, std.Code, c.State, "")
		}
	}
	return t
}
