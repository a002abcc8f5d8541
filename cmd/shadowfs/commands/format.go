package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/shadowfs/internal/bytesize"
)

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	if n < 0 {
		return fmt.Sprint(n)
	}
	return bytesize.ByteSize(n).String()
}

// formatStarted renders an RFC3339 timestamp as local time plus its age.
// Unparseable input is returned unchanged.
func formatStarted(ts string, now time.Time) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format(time.DateTime), humanize.RelTime(t, now, "ago", "from now"))
}

// formatUptime rounds a Go duration string to whole seconds.
func formatUptime(d string) string {
	v, err := time.ParseDuration(d)
	if err != nil {
		return d
	}
	return v.Round(time.Second).String()
}
