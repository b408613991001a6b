package webhookauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature means the signature header does not match the body.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMissingSecret means no secret is configured and bypass is not allowed.
	ErrMissingSecret = errors.New("signing secret not configured")
	// ErrStale means the delivery is older than the freshness window.
	ErrStale = errors.New("delivery older than allowed window")
	// ErrFromFuture means the delivery claims a creation time beyond the allowed skew.
	ErrFromFuture = errors.New("delivery timestamp too far in the future")
)

// Default freshness bounds.
const (
	// MaxAge is the oldest delivery accepted.
	MaxAge = 5 * time.Minute
	// MaxFutureSkew tolerates provider clocks running ahead of ours.
	MaxFutureSkew = 60 * time.Second
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 header against the raw body in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Policy decides whether a delivery is authentic.
//
// With a secret configured, verification is mandatory. Without one, only a
// non-production environment with SkipVerification set lets deliveries through;
// every other combination rejects.
type Policy struct {
	Secret           string
	SkipVerification bool
	Production       bool
}

// Check returns nil when the delivery may proceed.
func (p Policy) Check(body []byte, header string) error {
	if p.Secret != "" {
		if !VerifySignature(p.Secret, body, header) {
			return ErrInvalidSignature
		}
		return nil
	}
	if !p.Production && p.SkipVerification {
		return nil
	}
	return ErrMissingSecret
}

// Bypassed reports whether Check lets unsigned deliveries through.
func (p Policy) Bypassed() bool {
	return p.Secret == "" && !p.Production && p.SkipVerification
}

// CheckFreshness rejects deliveries whose createdAt is at least maxAge in the
// past or more than maxSkew in the future.
func CheckFreshness(createdAt, now time.Time, maxAge, maxSkew time.Duration) error {
	if maxAge <= 0 {
		maxAge = MaxAge
	}
	if maxSkew < 0 {
		maxSkew = MaxFutureSkew
	}
	age := now.Sub(createdAt)
	if age >= maxAge {
		return ErrStale
	}
	if -age > maxSkew {
		return ErrFromFuture
	}
	return nil
}
