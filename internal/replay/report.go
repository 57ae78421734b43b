package replay

import (
	"fmt"
	"strings"

	"github.com/saaga0h/jeeves-presence/internal/presence"
)

// FormatResult renders a human-readable timeline of a replay
func FormatResult(result *Result) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Scenario: %s\n", result.Scenario.Name))
	if result.Scenario.Description != "" {
		sb.WriteString(fmt.Sprintf("  %s\n", strings.TrimSpace(result.Scenario.Description)))
	}
	sb.WriteString("\n=== Events ===\n")

	for _, ev := range result.Events {
		line := fmt.Sprintf("[%7.3fs] → %s", SecondsSince(eventTime(ev)), ev.Type)
		if ev.Type == presence.EventExitConfirmed {
			line += fmt.Sprintf(" (duration %.3fs", ev.Duration.Seconds())
			if ev.Forced {
				line += ", forced"
			}
			line += ")"
		}
		sb.WriteString(line + "\n")
	}

	for _, te := range result.TickErrors {
		sb.WriteString(fmt.Sprintf("[%7.3fs] ! tick %d rejected: %v\n", te.At, te.Index, te.Err))
	}

	if len(result.Expectations) > 0 {
		sb.WriteString("\n=== Expectations ===\n")
		for _, res := range result.Expectations {
			icon := "✓"
			if !res.Passed {
				icon = "✗"
			}

			if res.Expectation.Type == "" {
				sb.WriteString(fmt.Sprintf("  %s %s\n", icon, res.Reason))
				continue
			}

			sb.WriteString(fmt.Sprintf("  %s %s at %.3fs", icon, res.Expectation.Type, res.Expectation.At))
			if !res.Passed {
				sb.WriteString(": " + res.Reason)
			}
			sb.WriteString("\n")
		}
	}

	status := "PASSED"
	if !result.Passed {
		status = "FAILED"
	}
	sb.WriteString(fmt.Sprintf("\nResult: %s (%d passed, %d failed)\n", status, result.PassedCount, result.FailedCount))

	return sb.String()
}
