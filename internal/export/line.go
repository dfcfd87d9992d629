package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TreeSnap/Export-Service/internal/models"
	"github.com/TreeSnap/Export-Service/internal/privacy"
)

const (
	fuzzyAccuracyLabel = "Fuzzy: within 8 kilometers"
	nullValue          = "NULL"
)

// FixedColumns lead every export row, ahead of the metadata labels.
var FixedColumns = []string{
	"Unique ID",
	"Custom Identifier",
	"Observation Category",
	"Latin Name",
	"Submitter",
	"Latitude",
	"Longitude",
	"Location Accuracy",
	"Comments",
	"Address",
	"Collection Date",
}

// Line is one export row. Fuzzy is set when the row used coordinates that
// were drawn for it and still need persisting.
type Line struct {
	Fields []string
	Fuzzy  *privacy.FuzzyUpdate
}

// LineBuilder turns observations into redacted export rows.
type LineBuilder struct {
	labels LabelSet
	fuzzy  *privacy.FuzzyCache
}

func NewLineBuilder(labels LabelSet, fuzzy *privacy.FuzzyCache) *LineBuilder {
	return &LineBuilder{labels: labels, fuzzy: fuzzy}
}

// Header returns the fixed columns followed by the metadata labels.
func (b *LineBuilder) Header() []string {
	header := make([]string, 0, len(FixedColumns)+b.labels.Len())
	header = append(header, FixedColumns...)
	return append(header, b.labels.Headers()...)
}

// Build returns the row for o as seen by v. ok is false when the row must be
// left out of the export entirely.
func (b *LineBuilder) Build(o *models.Observation, v *models.Viewer) (line Line, ok bool) {
	hasAccess := privacy.CanSeeExactLocationAndComments(v, o)
	if !hasAccess && o.IsPrivate {
		return Line{}, false
	}

	var latitude, longitude float64
	var accuracy string
	submitter := o.Owner.Name
	if hasAccess {
		latitude, longitude = o.Latitude, o.Longitude
		accuracy = fmt.Sprintf("Exact: within %s meters", formatFloat(o.LocationAccuracy))
	} else {
		coords, computed := b.fuzzy.Resolve(o)
		if computed {
			line.Fuzzy = &privacy.FuzzyUpdate{ObservationID: o.ID, Coords: coords}
		}
		latitude, longitude = coords.Latitude, coords.Longitude
		accuracy = fuzzyAccuracyLabel
		if o.Owner.IsAnonymous {
			submitter = "Anonymous"
		}
	}

	comment := ""
	if privacy.CanSeeComment(v, o) {
		comment = o.Comment()
	}

	customID := o.CustomID
	if customID == "" {
		customID = nullValue
	}

	fields := make([]string, 0, len(FixedColumns)+b.labels.Len())
	fields = append(fields,
		o.MobileID,
		customID,
		o.Category,
		strings.TrimSpace(o.LatinName.Genus+" "+o.LatinName.Species),
		submitter,
		formatFloat(latitude),
		formatFloat(longitude),
		accuracy,
		comment,
		o.Address.Formatted,
		o.CollectionDate.Format(time.DateOnly),
	)
	line.Fields = append(fields, b.metaData(o)...)

	return line, true
}

// metaData flattens the observation's metadata into one value per label.
func (b *LineBuilder) metaData(o *models.Observation) []string {
	out := make([]string, 0, b.labels.Len())
	for _, l := range b.labels.Labels() {
		val, ok := o.Data[l.Key]
		if !ok || val == nil {
			out = append(out, nullValue)
			continue
		}
		out = append(out, flattenValue(val))
	}
	return out
}

func flattenValue(val any) string {
	switch t := val.(type) {
	case string:
		if strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") {
			var list []any
			if err := json.Unmarshal([]byte(t), &list); err == nil {
				return joinValues(list)
			}
		}
		return t
	case []any:
		return joinValues(t)
	case []string:
		return strings.Join(t, ",")
	case float64:
		return formatFloat(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func joinValues(list []any) string {
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = flattenValue(item)
	}
	return strings.Join(parts, ",")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
