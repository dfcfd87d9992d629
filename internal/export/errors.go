package export

import (
	"github.com/rotisserie/eris"
)

var (
	// ErrInvalidFormat rejects an export before any query or file I/O.
	ErrInvalidFormat = eris.New("invalid export format")
	// ErrNotFound is returned when the referenced filter, collection or observation is absent.
	ErrNotFound = eris.New("not found")
	// ErrForbidden is returned when the viewer may not export the referenced set.
	ErrForbidden = eris.New("forbidden")
)
