package models

import (
	"time"
)

// Categories are the plant categories an observation may be filed under.
var Categories = []string{
	"American Chestnut",
	"Ash",
	"Hemlock",
	"White Oak",
	"American Elm",
	"Other",
}

func IsCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

type Address struct {
	Formatted  string             `json:"formatted"`
	Components []AddressComponent `json:"components"`
}

type LatinName struct {
	Genus   string `json:"genus"`
	Species string `json:"species"`
}

type Owner struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type Flag struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"user_id"`
	Reason   string `json:"reason"`
	Comments string `json:"comments,omitempty"`
}

type CollectionRef struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

type Confirmation struct {
	ID      int64 `json:"id"`
	UserID  int64 `json:"user_id"`
	Correct bool  `json:"correct"`
}

// Observation is a geotagged plant record submitted by a user.
type Observation struct {
	ID                 int64               `json:"id"`
	UserID             int64               `json:"user_id"`
	Category           string              `json:"observation_category"`
	Data               map[string]any      `json:"data"`
	Latitude           float64             `json:"latitude"`
	Longitude          float64             `json:"longitude"`
	LocationAccuracy   float64             `json:"location_accuracy"`
	FuzzyCoords        *Coordinates        `json:"fuzzy_coords,omitempty"`
	Address            Address             `json:"address"`
	Images             map[string][]string `json:"images"`
	Thumbnail          string              `json:"thumbnail"`
	CollectionDate     time.Time           `json:"collection_date"`
	IsPrivate          bool                `json:"is_private"`
	HasPrivateComments bool                `json:"has_private_comments"`
	MobileID           string              `json:"mobile_id"`
	CustomID           string              `json:"custom_id"`
	LatinName          LatinName           `json:"latin_name"`
	Owner              Owner               `json:"user"`
	Flags              []Flag              `json:"flags"`
	Collections        []CollectionRef     `json:"collections"`
	Confirmations      []Confirmation      `json:"confirmations"`
	ConfirmationsCount int                 `json:"confirmations_count"`
}

// Comment returns the free-form comment stored in the metadata, if any.
func (o *Observation) Comment() string {
	if o.Data == nil {
		return ""
	}
	if c, ok := o.Data["comment"].(string); ok {
		return c
	}
	return ""
}

// OtherLabel returns the custom label typed in for the "Other" category.
func (o *Observation) OtherLabel() (string, bool) {
	if o.Data == nil {
		return "", false
	}
	s, ok := o.Data["otherLabel"].(string)
	return s, ok
}

func (o *Observation) InCollection(id int64) bool {
	for _, c := range o.Collections {
		if c.ID == id {
			return true
		}
	}
	return false
}
