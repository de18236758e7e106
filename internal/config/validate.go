package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError lists every problem found in the settings. The sync engine
// refuses to start while any remain.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the settings. Warnings do not prevent a sync.
func (s Settings) Validate() (warnings []string, err error) {
	var problems []string

	switch {
	case s.KeyServerURL == "":
		problems = append(problems, "missing mandatory key KEY_SERVER_URL")
	case !strings.HasPrefix(s.KeyServerURL, "http"):
		problems = append(problems, "invalid URL format for KEY_SERVER_URL: must start with http or https")
	default:
		if p := checkURL("KEY_SERVER_URL", s.KeyServerURL); p != "" {
			problems = append(problems, p)
		} else if !strings.HasPrefix(s.KeyServerURL, "https") {
			warnings = append(warnings, "HTTP is not recommended for KEY_SERVER_URL; use https to protect against man in the middle attacks")
		}
	}

	if len(s.SSHPublicKeyTypes) == 0 {
		problems = append(problems, "SSH_PUBLIC_KEY_TYPES must list at least one key type")
	}
	for _, t := range s.SSHPublicKeyTypes {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, "SSH_PUBLIC_KEY_TYPES must not contain empty entries")
			break
		}
	}

	if s.InternalTimerInterval <= 0 {
		problems = append(problems, "INTERNAL_TIMER_INTERVAL must be a positive number of seconds")
	}
	if s.InternalTimerSchedule != "" {
		if _, err := cron.ParseStandard(s.InternalTimerSchedule); err != nil {
			problems = append(problems, fmt.Sprintf("invalid INTERNAL_TIMER_SCHEDULE: %v", err))
		}
	}

	if s.EnableWebhook {
		if s.WebhookURL == "" {
			problems = append(problems, "missing mandatory key WEBHOOK_URL (required when ENABLE_WEBHOOK is true)")
		} else if p := checkURL("WEBHOOK_URL", s.WebhookURL); p != "" {
			problems = append(problems, p)
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}

func checkURL(key, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL for %s: %v", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("invalid URL format for %s: must start with http or https", key)
	}
	if u.Host == "" {
		return fmt.Sprintf("invalid URL for %s: missing host", key)
	}
	return ""
}
