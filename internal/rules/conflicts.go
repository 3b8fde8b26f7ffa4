package rules

import (
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

// Severity grades a detected rule conflict.
type Severity string

const (
	// SeverityHigh marks overlapping rules with different actions: the same
	// command could be accepted by one rule and rejected by another.
	SeverityHigh Severity = "HIGH"
	// SeverityLow marks overlapping rules with the same action (redundancy).
	SeverityLow Severity = "LOW"
)

// Conflict reports that an existing rule matches at least one battery command
// that the candidate pattern also matches.
type Conflict struct {
	Rule     *repository.Rule
	TestCase string
	Severity Severity
}

// battery is the fixed set of representative commands the advisory conflict
// check probes patterns against.
var battery = []string{
	"git status",
	"git log",
	"git push",
	"git clone",
	"ls -la",
	"ls",
	"cat file.txt",
	"pwd",
	"echo hello",
	"rm -rf /",
	"rm file.txt",
	"sudo su",
	"sudo apt update",
	"chmod 777",
	"mkfs.ext4",
	"dd if=/dev/zero",
	":(){ :|:& };:",
}

// DetectConflicts runs the candidate pattern and every existing active rule
// against the battery and reports each rule sharing a matching input. Purely
// advisory: it never blocks rule creation.
func DetectConflicts(existing []*repository.Rule, newPattern string, newAction repository.Action) ([]Conflict, error) {
	newRe, err := Compile(newPattern)
	if err != nil {
		return nil, ValidatePattern(newPattern)
	}

	var conflicts []Conflict
	for _, rule := range existing {
		if !rule.IsActive {
			continue
		}
		existingRe, err := Compile(rule.Pattern)
		if err != nil {
			continue
		}

		for _, tc := range battery {
			if newRe.MatchString(tc) && existingRe.MatchString(tc) {
				severity := SeverityLow
				if newAction != rule.Action {
					severity = SeverityHigh
				}
				conflicts = append(conflicts, Conflict{
					Rule:     rule,
					TestCase: tc,
					Severity: severity,
				})
				break
			}
		}
	}
	return conflicts, nil
}
