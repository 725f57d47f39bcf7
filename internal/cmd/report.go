package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/felixgeelhaar/goalrun/internal/health"
)

// outputReport renders a health report as JSON or as one line per check
func outputReport(w io.Writer, asJSON bool, report *health.Report) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	for _, e := range report.Entries {
		printCheck(w, e)
	}
	fmt.Fprintln(w)

	switch report.Status {
	case health.StatusHealthy:
		fmt.Fprintln(w, "✓ All checks passed")
	case health.StatusDegraded:
		fmt.Fprintln(w, "⚠ Some checks are degraded; goals can still run")
	default:
		fmt.Fprintln(w, "✗ Some checks failed")
	}
	return nil
}

func printCheck(w io.Writer, e health.Entry) {
	icon := " "
	switch e.Status {
	case health.StatusHealthy:
		icon = "✓"
	case health.StatusDegraded:
		icon = "⚠"
	case health.StatusUnhealthy:
		icon = "✗"
	}
	fmt.Fprintf(w, "  %s %s: %s\n", icon, e.Name, e.Message)

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "      %s: %v\n", k, e.Details[k])
	}
}

// unhealthyError fails a command whose report has an unhealthy check
func unhealthyError(report *health.Report) error {
	if report.Status != health.StatusUnhealthy {
		return nil
	}
	var failed []string
	for _, e := range report.Entries {
		if e.Status == health.StatusUnhealthy {
			failed = append(failed, e.Name)
		}
	}
	return fmt.Errorf("health check failed: %v", failed)
}
