// Package units converts metrics.k8s.io usage strings into the canonical
// millicore and mebibyte scales stored in sample partitions.
package units

import (
	"fmt"
	"strconv"
	"strings"
)

// Resource identifies which conversion a raw usage string went through
type Resource string

const (
	CPU    Resource = "cpu"
	Memory Resource = "memory"
)

// ParseError is returned when a usage string has a non-numeric payload
type ParseError struct {
	Resource Resource
	Raw      string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s usage %q: %v", e.Resource, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseCPU converts a CPU usage string to millicores.
//
// The unit is detected by the presence of "n", "u" or "m" anywhere in the
// string, checked in that order, with bare cores as the fallback. This is a
// substring test rather than a strict suffix match and is kept that way so
// existing partitions stay comparable.
func ParseCPU(raw string) (float64, error) {
	switch {
	case strings.Contains(raw, "n"):
		v, err := parseInt(CPU, raw, "n")
		return v / 1e6, err
	case strings.Contains(raw, "u"):
		v, err := parseInt(CPU, raw, "u")
		return v / 1e3, err
	case strings.Contains(raw, "m"):
		return parseInt(CPU, raw, "m")
	default:
		v, err := parseInt(CPU, raw, "")
		return v * 1000, err
	}
}

// ParseMemory converts a memory usage string to MiB. Suffixes are checked in
// the order Ki, Mi, Gi, falling back to bare bytes.
func ParseMemory(raw string) (float64, error) {
	switch {
	case strings.Contains(raw, "Ki"):
		v, err := parseInt(Memory, raw, "Ki")
		return v / 1024, err
	case strings.Contains(raw, "Mi"):
		return parseInt(Memory, raw, "Mi")
	case strings.Contains(raw, "Gi"):
		v, err := parseInt(Memory, raw, "Gi")
		return v * 1024, err
	default:
		v, err := parseInt(Memory, raw, "")
		return v / (1024 * 1024), err
	}
}

// parseInt strips every leading and trailing character of cutset and parses
// the remainder as a non-negative integer.
func parseInt(res Resource, raw, cutset string) (float64, error) {
	s := strings.TrimSpace(raw)
	if cutset != "" {
		s = strings.Trim(s, cutset)
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &ParseError{Resource: res, Raw: raw, Err: err}
	}
	return float64(n), nil
}
