package export

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Format is the delimited text format of an export.
type Format string

const (
	FormatCSV Format = "csv"
	FormatTSV Format = "tsv"
)

// ParseFormat accepts "csv" and "tsv" only. Anything else is ErrInvalidFormat.
func ParseFormat(ext string) (Format, error) {
	switch f := Format(strings.ToLower(ext)); f {
	case FormatCSV, FormatTSV:
		return f, nil
	}
	return "", eris.Wrapf(ErrInvalidFormat, "export: extension %q", ext)
}

func (f Format) Delimiter() rune {
	if f == FormatTSV {
		return '\t'
	}
	return ','
}

func (f Format) ContentType() string {
	if f == FormatTSV {
		return "text/tab-separated-values"
	}
	return "text/csv"
}
