package storage

import (
	"strings"

	"github.com/TreeSnap/Export-Service/internal/models"
)

// Address component types checked by the state, county and city rules.
const (
	TypeState  = "administrative_area_level_1"
	TypeCounty = "administrative_area_level_2"
	TypeCity   = "locality"
)

// Matches reports whether o belongs to sel. It is the in-memory counterpart
// of the WHERE clause built by the Postgres store.
func Matches(sel models.Selection, o *models.Observation) bool {
	if !sel.IncludePrivate && o.IsPrivate && (sel.ViewerID == 0 || o.UserID != sel.ViewerID) {
		return false
	}
	if sel.OwnerID != 0 && o.UserID != sel.OwnerID {
		return false
	}
	if sel.CollectionID != 0 && !o.InCollection(sel.CollectionID) {
		return false
	}
	if sel.Category != "" && o.Category != sel.Category {
		return false
	}
	if sel.Search != "" && !matchesSearch(o, sel.Search) {
		return false
	}
	if sel.Rules != nil && !matchesRules(*sel.Rules, o) {
		return false
	}
	return true
}

func matchesRules(r models.FilterRules, o *models.Observation) bool {
	if len(r.Categories) > 0 && !contains(r.Categories, o.Category) {
		return false
	}
	if r.From != nil && o.CollectionDate.Before(*r.From) {
		return false
	}
	if r.To != nil && o.CollectionDate.After(*r.To) {
		return false
	}
	if r.State != "" && !hasComponent(o.Address, TypeState, r.State) {
		return false
	}
	if r.County != "" && !hasComponent(o.Address, TypeCounty, r.County) {
		return false
	}
	if r.City != "" && !hasComponent(o.Address, TypeCity, r.City) {
		return false
	}
	return true
}

// matchesSearch is a case-insensitive substring match over the fields a user
// would recognise an observation by.
func matchesSearch(o *models.Observation, term string) bool {
	term = strings.ToLower(term)
	candidates := []string{o.Category, o.MobileID, o.CustomID, o.Address.Formatted}
	if label, ok := o.OtherLabel(); ok {
		candidates = append(candidates, label)
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c), term) {
			return true
		}
	}
	return false
}

func hasComponent(a models.Address, kind, name string) bool {
	for _, c := range a.Components {
		if !contains(c.Types, kind) {
			continue
		}
		if strings.EqualFold(c.LongName, name) || strings.EqualFold(c.ShortName, name) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
