// Package deps resolves the external binaries configured lanes shell out to.
// Lookups go through PATH only; nothing here executes the binary.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names a binary a capture lane needs and where its command
// comes from in the config.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the resolved form of a Requirement. Detail is empty when the
// binary resolved, otherwise it says what went wrong.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

func (r Requirement) check() Status {
	status := Status{
		Name:        r.Name,
		Command:     strings.TrimSpace(r.Command),
		Description: strings.TrimSpace(r.Description),
		Optional:    r.Optional,
	}
	switch {
	case status.Command == "":
		status.Detail = "command not configured"
	default:
		if _, err := exec.LookPath(status.Command); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", status.Command)
		} else {
			status.Available = true
		}
	}
	return status
}

// CheckBinaries resolves each requirement in order. Results are returned
// for every input, available or not, so callers can render the full list.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, req.check())
	}
	return results
}
