package dialog

import (
	"regexp"
	"strconv"
	"strings"
)

// Validator checks one candidate slot value.
type Validator func(value string) bool

// Validators maps slot names to their validators. Slots without an entry
// accept any value, matching the permissive behavior the dialogue was
// designed around; a strict table is opt-in.
type Validators map[string]Validator

// Accept reports whether value is acceptable for the named slot.
func (v Validators) Accept(slot, value string) bool {
	if v == nil {
		return true
	}
	fn, ok := v[slot]
	if !ok {
		return true
	}
	return fn(value)
}

var amiIDPattern = regexp.MustCompile(`^ami-[0-9a-f]{8,17}$`)

func positiveInt(value string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil && n > 0
}

func nonEmpty(value string) bool {
	return strings.TrimSpace(value) != ""
}

func portNumber(value string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil && n >= 1 && n <= 65535
}

// StrictValidators checks formats for slots with a known shape and
// rejects blank values for the rest.
func StrictValidators() Validators {
	return Validators{
		"Ami ID": func(value string) bool {
			return amiIDPattern.MatchString(strings.TrimSpace(value))
		},
		"Number of Instances":  positiveInt,
		"Container Port":       portNumber,
		"CPU (in CPU units)":   positiveInt,
		"Memory (in MB)":       positiveInt,
		"DB Storage":           positiveInt,
		"Instance Name":        nonEmpty,
		"Instance Type":        nonEmpty,
		"Resource Name":        nonEmpty,
		"DB Name":              nonEmpty,
		"DB Engine":            nonEmpty,
		"Instance Class":       nonEmpty,
		"Github URL":           nonEmpty,
		"Docker Image Name":    nonEmpty,
		"Cluster Name":         nonEmpty,
		"Healthcheck Endpoint": nonEmpty,
	}
}
