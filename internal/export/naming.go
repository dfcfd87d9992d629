package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SanitizeLabel makes a filter or collection name safe for a file name.
func SanitizeLabel(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	return strings.ReplaceAll(name, " ", "_")
}

// ObjectName is where the artifact is stored: downloads/{label}_{token}.{ext}
func ObjectName(label string, format Format) string {
	return fmt.Sprintf("downloads/%s_%s.%s", SanitizeLabel(label), uuid.NewString(), format)
}

// DownloadName is the human-friendly attachment name: {label}_{MM_DD_YYYY}.{ext}
func DownloadName(label string, format Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeLabel(label), now.Format("01_02_2006"), format)
}
