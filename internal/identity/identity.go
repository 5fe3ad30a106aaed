// Package identity derives the content-addressed keys used for request
// deduplication and quota accounting.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	fingerprintSeparator = "|||"

	// MissingEmail stands in for users whose provider did not share an email.
	MissingEmail = "not_found@not_found.com"
)

type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
)

var ErrInvalid = errors.New("identity: exactly one of user id or ip address is required")

// Identity is the quota-accounting key: a pseudonymous user hash or a raw
// client IP.
type Identity struct {
	Kind  Kind
	Value string
}

func User(id string) Identity { return Identity{Kind: KindUser, Value: strings.TrimSpace(id)} }

func IP(addr string) Identity { return Identity{Kind: KindIP, Value: strings.TrimSpace(addr)} }

func (i Identity) Validate() error {
	if i.Value == "" {
		return ErrInvalid
	}
	switch i.Kind {
	case KindUser, KindIP:
		return nil
	default:
		return ErrInvalid
	}
}

func (i Identity) String() string { return string(i.Kind) + ":" + i.Value }

// Fingerprint hashes (script, business) into the dedup key. Identical pairs
// collapse to the same value regardless of who asked.
func Fingerprint(script, business string) string {
	return sha256Hex(script + fingerprintSeparator + business)
}

// PseudonymizeUser returns a stable id for a (name, email) pair, ignoring
// case and surrounding whitespace.
func PseudonymizeUser(name, email string) string {
	if strings.TrimSpace(email) == "" {
		email = MissingEmail
	}
	combined := strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(email))
	return sha256Hex(combined)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
