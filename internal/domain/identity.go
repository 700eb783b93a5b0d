// Package domain contains call entities without transport or lifecycle logic.
package domain

import (
	"strconv"
	"strings"

	"github.com/pion/randutil"
)

const (
	MaxIdentityLen = 36

	// Candidate identities are two-digit numbers so they are easy to type.
	minCandidate = 10
	maxCandidate = 99
)

// Identity names an endpoint to the brokering service.
type Identity string

func (id Identity) String() string { return string(id) }

// Short returns at most the first n bytes of the identity, for status lines.
func (id Identity) Short(n int) string {
	if len(id) <= n {
		return string(id)
	}
	return string(id[:n]) + "..."
}

// ParseIdentity trims user input into an Identity.
func ParseIdentity(raw string) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrEmptyIdentity
	}
	if len(s) > MaxIdentityLen {
		return "", ErrIdentityTooLong
	}
	return Identity(s), nil
}

var candidates = randutil.NewMathRandomGenerator()

// NewCandidate draws a random two-digit identity.
func NewCandidate() Identity {
	n := minCandidate + candidates.Intn(maxCandidate-minCandidate+1)
	return Identity(strconv.Itoa(n))
}

// NextCandidate draws a candidate that differs from prev.
func NextCandidate(prev Identity) Identity {
	for {
		if id := NewCandidate(); id != prev {
			return id
		}
	}
}
