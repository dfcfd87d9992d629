// Package filter narrows a list of projected observation records by search
// term, search scope, category and collection. It works on records already
// shaped for the viewer, so it can never reveal more than they carry.
package filter

import (
	"strings"

	"github.com/TreeSnap/Export-Service/internal/projection"
)

// Scope restricts which fields the search term is matched against.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeUser     Scope = "user"
	ScopeCategory Scope = "category"
	ScopeAddress  Scope = "address"
	ScopeState    Scope = "state"
	ScopeCounty   Scope = "county"
	ScopeCity     Scope = "city"
)

// NoCollection disables the collection filter.
const NoCollection int64 = -1

var componentTypes = map[Scope]string{
	ScopeState:  "administrative_area_level_1",
	ScopeCounty: "administrative_area_level_2",
	ScopeCity:   "locality",
}

// ParseScope maps a request value onto a Scope, defaulting to ScopeAll.
func ParseScope(s string) Scope {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeUser, ScopeCategory, ScopeAddress, ScopeState, ScopeCounty, ScopeCity:
		return sc
	default:
		return ScopeAll
	}
}

// Filter holds the current criteria over a record list. Every setter
// returns the recomputed result; all criteria are ANDed.
type Filter struct {
	records    []projection.Record
	category   string
	term       string
	scope      Scope
	collection int64
}

func New(records []projection.Record) *Filter {
	return &Filter{
		records:    records,
		scope:      ScopeAll,
		collection: NoCollection,
	}
}

// Replace swaps the underlying records, keeping the criteria.
func (f *Filter) Replace(records []projection.Record) []projection.Record {
	f.records = records
	return f.Apply()
}

func (f *Filter) Search(term string) []projection.Record {
	f.term = term
	return f.Apply()
}

func (f *Filter) SearchScope(scope Scope) []projection.Record {
	f.scope = scope
	return f.Apply()
}

func (f *Filter) Category(name string) []projection.Record {
	f.category = name
	return f.Apply()
}

func (f *Filter) Collection(id int64) []projection.Record {
	f.collection = id
	return f.Apply()
}

// Apply re-scans every record against the current criteria.
func (f *Filter) Apply() []projection.Record {
	out := make([]projection.Record, 0, len(f.records))
	for i := range f.records {
		r := &f.records[i]
		if f.inCollection(r) && f.matchesSearch(r) && f.matchesCategory(r) {
			out = append(out, *r)
		}
	}
	return out
}

func (f *Filter) inCollection(r *projection.Record) bool {
	if f.collection == NoCollection {
		return true
	}
	for _, c := range r.Collections {
		if c.ID == f.collection {
			return true
		}
	}
	return false
}

func (f *Filter) matchesCategory(r *projection.Record) bool {
	if strings.TrimSpace(f.category) == "" {
		return true
	}
	return r.Category == f.category
}

func (f *Filter) matchesSearch(r *projection.Record) bool {
	term := strings.ToLower(strings.TrimSpace(f.term))
	if term == "" {
		return true
	}

	switch f.scope {
	case ScopeUser:
		return contains(r.User.Name, term)
	case ScopeCategory:
		return matchesCategoryTerm(r, term)
	case ScopeAddress:
		return contains(r.Location.Address.Formatted, term)
	case ScopeState, ScopeCounty, ScopeCity:
		return matchesComponent(r, componentTypes[f.scope], term)
	default:
		return matchesCategoryTerm(r, term) ||
			contains(r.Location.Address.Formatted, term) ||
			matchesAnyComponent(r, term) ||
			contains(r.User.Name, term)
	}
}

// matchesCategoryTerm also accepts the label typed in for "Other".
func matchesCategoryTerm(r *projection.Record, term string) bool {
	if contains(r.Category, term) {
		return true
	}
	if r.Category != "Other" {
		return false
	}
	label, ok := r.MetaData["otherLabel"].(string)
	return ok && contains(label, term)
}

func matchesComponent(r *projection.Record, kind, term string) bool {
	for _, c := range r.Location.Address.Components {
		for _, t := range c.Types {
			if t == kind && (contains(c.LongName, term) || contains(c.ShortName, term)) {
				return true
			}
		}
	}
	return false
}

// matchesAnyComponent checks every address component regardless of type.
func matchesAnyComponent(r *projection.Record, term string) bool {
	for _, c := range r.Location.Address.Components {
		if contains(c.LongName, term) || contains(c.ShortName, term) {
			return true
		}
	}
	return false
}

// contains reports whether term, already lower-cased, occurs in s.
func contains(s, term string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(s)), term)
}
