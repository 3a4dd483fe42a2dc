package util

import (
	"strings"
	"time"
)

// ClientDescriptor is the coarse browser/OS/device classification of a user agent.
type ClientDescriptor struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
	Device  string `json:"device"`
}

// ParseUserAgent classifies a raw User-Agent header. Order matters: Edge and Chrome
// both advertise "Chrome", and every Chromium UA also advertises "Safari".
func ParseUserAgent(ua string) ClientDescriptor {
	lower := strings.ToLower(ua)
	d := ClientDescriptor{Browser: "Unknown", OS: "Unknown", Device: "Desktop"}

	switch {
	case strings.Contains(lower, "edg/") || strings.Contains(lower, "edge/"):
		d.Browser = "Edge"
	case strings.Contains(lower, "firefox/"):
		d.Browser = "Firefox"
	case strings.Contains(lower, "chrome/") || strings.Contains(lower, "crios/"):
		d.Browser = "Chrome"
	case strings.Contains(lower, "safari/"):
		d.Browser = "Safari"
	}

	switch {
	case strings.Contains(lower, "android"):
		d.OS = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad") || strings.Contains(lower, "ios"):
		d.OS = "iOS"
	case strings.Contains(lower, "windows"):
		d.OS = "Windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macintosh"):
		d.OS = "macOS"
	case strings.Contains(lower, "linux"):
		d.OS = "Linux"
	}

	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		d.Device = "Tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		d.Device = "Mobile"
	}

	return d
}

// Singapore has no daylight saving.
var Singapore = time.FixedZone("SGT", 8*60*60)

// IsBusinessHours reports Mon-Fri 09:00-18:00 Singapore time.
func IsBusinessHours(t time.Time) bool {
	local := t.In(Singapore)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return local.Hour() >= 9 && local.Hour() < 18
}
