// Package interpret turns raw goal progress output into a short explanation
// that can be shown to users when a goal fails.
package interpret

import (
	"regexp"
	"strings"
)

// Interpretation is a user-facing reading of a failed goal's log
type Interpretation struct {
	// Message summarizes the failure
	Message string
	// RelevantPart is the excerpt of the log worth showing
	RelevantPart string
	// DoNotReportToUser suppresses the notice entirely
	DoNotReportToUser bool
}

// Interpreter inspects a log and returns nil when it has nothing to say
type Interpreter func(log string) *Interpretation

// Chain returns the first non-nil interpretation of its interpreters
func Chain(interpreters ...Interpreter) Interpreter {
	return func(log string) *Interpretation {
		for _, interpret := range interpreters {
			if interpret == nil {
				continue
			}
			if i := interpret(log); i != nil {
				return i
			}
		}
		return nil
	}
}

// LastLines always matches and reports the last n non-empty lines of the log
func LastLines(n int, message string) Interpreter {
	return func(log string) *Interpretation {
		lines := nonEmptyLines(log)
		if len(lines) == 0 {
			return nil
		}
		if n > 0 && len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		return &Interpretation{Message: message, RelevantPart: strings.Join(lines, "\n")}
	}
}

// Pattern matches when re finds a match in the log. The message may refer
// to submatches with $1 or ${name}; the relevant part is every log line
// containing a match.
func Pattern(re *regexp.Regexp, message string) Interpreter {
	return func(log string) *Interpretation {
		match := re.FindStringSubmatchIndex(log)
		if match == nil {
			return nil
		}
		expanded := re.ExpandString(nil, message, log, match)

		var relevant []string
		for _, line := range nonEmptyLines(log) {
			if re.MatchString(line) {
				relevant = append(relevant, line)
			}
		}
		return &Interpretation{Message: string(expanded), RelevantPart: strings.Join(relevant, "\n")}
	}
}

// Silence matches logs containing re and suppresses reporting them
func Silence(re *regexp.Regexp) Interpreter {
	return func(log string) *Interpretation {
		if !re.MatchString(log) {
			return nil
		}
		return &Interpretation{DoNotReportToUser: true}
	}
}

func nonEmptyLines(log string) []string {
	var lines []string
	for _, line := range strings.Split(log, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
