// Package hilbot contains type declarations used across
// multiple hilbot-related packages.
package hilbot

import (
	"errors"
	"strconv"
	"strings"
)

// An Instance identifies one MCU/platform/toolchain/module test
// configuration as a short sequence of small integers, for example
// [6 1] meaning "group 6, sub-instance 1". Instances are value
// objects: created once by parsing, never mutated.
type Instance []int

// ParseInstance parses a dot-separated integer sequence like "6.1".
func ParseInstance(s string) (Instance, error) {
	if s == "" {
		return nil, errors.New("bad instance: empty")
	}
	var in Instance
	for _, part := range strings.Split(s, ".") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, errors.New("bad instance: " + s)
		}
		in = append(in, n)
	}
	return in, nil
}

// String joins the sequence with dots, the human-readable form
// used in file names, log lines and RPC payloads.
func (in Instance) String() string {
	parts := make([]string, len(in))
	for i, n := range in {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Equal reports whether in and other are the same sequence.
func (in Instance) Equal(other Instance) bool {
	if len(in) != len(other) {
		return false
	}
	for i := range in {
		if in[i] != other[i] {
			return false
		}
	}
	return true
}

// Less orders instances lexicographically by their integer sequence,
// so 2.1 sorts before 10 and 6 before 6.0.
func (in Instance) Less(other Instance) bool {
	for i := range in {
		if i >= len(other) {
			return false
		}
		if in[i] != other[i] {
			return in[i] < other[i]
		}
	}
	return len(in) < len(other)
}

// SortInstances sorts a in place (lexicographic integer order).
func SortInstances(a []Instance) {
	// insertion sort; instance lists are short
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j].Less(a[j-1]); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

// DedupeInstances returns a copy of a with adjacent duplicates removed.
// If you need all duplicates removed, sort a first.
func DedupeInstances(a []Instance) []Instance {
	var out []Instance
	for _, in := range a {
		if len(out) == 0 || !out[len(out)-1].Equal(in) {
			out = append(out, in)
		}
	}
	return out
}

// ContainsInstance reports whether a contains in.
func ContainsInstance(a []Instance, in Instance) bool {
	for _, x := range a {
		if x.Equal(in) {
			return true
		}
	}
	return false
}
