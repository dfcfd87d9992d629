package export

import (
	"github.com/TreeSnap/Export-Service/internal/configuration"
)

// Label maps a metadata key onto an export column header.
type Label struct {
	Key  string
	Text string
}

// LabelSet is the ordered list of metadata columns appended to every row.
// It never contains "comment", which has its own fixed column.
type LabelSet struct {
	labels []Label
}

func NewLabelSet(cfg []configuration.LabelConfig) LabelSet {
	labels := make([]Label, 0, len(cfg))
	for _, l := range cfg {
		if l.Key == "comment" {
			continue
		}
		labels = append(labels, Label{Key: l.Key, Text: l.Label})
	}
	return LabelSet{labels: labels}
}

func (s LabelSet) Len() int { return len(s.labels) }

func (s LabelSet) Labels() []Label { return s.labels }

// Headers returns the column headers in configured order.
func (s LabelSet) Headers() []string {
	out := make([]string, len(s.labels))
	for i, l := range s.labels {
		out[i] = l.Text
	}
	return out
}
