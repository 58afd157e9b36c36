package timeline

import "fmt"

// Anchor is a saved offset into a media item. Exactly one anchor per loaded
// item has Tail set; it marks the end of the track and is never persisted.
type Anchor struct {
	Position float64 `json:"position"`
	Tail     bool    `json:"tail,omitempty"`
}

func (a Anchor) String() string {
	return "anchor " + FormatDuration(a.Position)
}

// FormatDuration renders seconds as HH:MM:SS. Fractions are truncated and
// negative values render as zero.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
