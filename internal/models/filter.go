package models

import (
	"time"
)

type FilterRules struct {
	Categories []string   `json:"categories,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	State      string     `json:"state,omitempty"`
	County     string     `json:"county,omitempty"`
	City       string     `json:"city,omitempty"`
}

// Filter is a named, reusable rule set owned by a user.
type Filter struct {
	ID       int64       `json:"id"`
	UserID   int64       `json:"user_id"`
	Name     string      `json:"name"`
	Rules    FilterRules `json:"rules"`
	IsPublic bool        `json:"is_public"`
}

// Collection is a user-curated set of observations shared among its members.
type Collection struct {
	ID      int64   `json:"id"`
	Label   string  `json:"label"`
	UserIDs []int64 `json:"user_ids"`
}

func (c *Collection) HasMember(userID int64) bool {
	for _, id := range c.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Selection picks the observations a listing or export runs over.
// Zero-valued fields do not constrain the result.
type Selection struct {
	Rules        *FilterRules
	CollectionID int64
	OwnerID      int64
	Category     string
	Search       string

	// IncludePrivate lifts the privacy clause. Otherwise private rows are
	// kept only when they belong to ViewerID.
	IncludePrivate bool
	ViewerID       int64
}
