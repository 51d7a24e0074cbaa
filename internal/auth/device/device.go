// Package device derives human-readable device labels from User-Agent
// strings so sessions can tell "Chrome on macOS" apart from "Safari on iOS".
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// Label extracts a display name from a User-Agent string, in the form
// "Browser on OS".
func Label(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)

	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		platform := ua.Platform()
		if platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}

	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}

	return strings.TrimSpace(browser + " on " + os)
}
