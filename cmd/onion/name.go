package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zeropr/onion/internal/config"
)

// resolveInstanceName returns the mDNS instance a registry announces. The
// default name gets the host name appended so two hosts on one link stay
// distinct; a custom name is used as-is.
func resolveInstanceName(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = config.DefaultInstance
	}

	if base != config.DefaultInstance {
		return base
	}

	host, err := os.Hostname()
	if err != nil {
		return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
	}

	sanitized := sanitizeHostname(host)
	if sanitized == "" {
		return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
	}

	return fmt.Sprintf("%s-%s", base, sanitized)
}

// lookupInstance returns the instance filter for discovery.Lookup. With the
// default name any registry is accepted.
func lookupInstance(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == config.DefaultInstance {
		return ""
	}
	return name
}

func sanitizeHostname(host string) string {
	host = strings.ToLower(host)

	var builder strings.Builder
	lastDash := false

	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		case r == '-' || r == '_' || r == ' ' || r == '.':
			if !lastDash {
				builder.WriteRune('-')
				lastDash = true
			}
		}
	}

	return strings.Trim(builder.String(), "-")
}
