package webhookauth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignature_OK(t *testing.T) {
	secret := "whsec_dev"
	body := []byte(`{"webhookId":"wh_1","type":"GRAPHQL"}`)

	if !VerifySignature(secret, body, Sign(secret, body)) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifySignature_BitFlip(t *testing.T) {
	secret := "whsec_dev"
	body := []byte(`{"webhookId":"wh_1"}`)
	sig := []byte(Sign(secret, body))

	// flip one bit of the first hex digit, keeping it valid hex
	if sig[0] == '0' {
		sig[0] = '1'
	} else {
		sig[0] = '0'
	}
	if VerifySignature(secret, body, string(sig)) {
		t.Fatalf("flipped signature must not verify")
	}
}

func TestVerifySignature_Rejects(t *testing.T) {
	secret := "whsec_dev"
	body := []byte(`{"k":"v"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"not hex", "zz-not-hex"},
		{"wrong secret", Sign("other", body)},
		{"truncated", Sign(secret, body)[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(secret, body, tt.header) {
				t.Fatalf("header %q should not verify", tt.header)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	body := []byte(`{}`)
	good := Sign("s", body)

	tests := []struct {
		name   string
		policy Policy
		header string
		want   error
	}{
		{"secret and good signature", Policy{Secret: "s"}, good, nil},
		{"secret and bad signature", Policy{Secret: "s"}, "00", ErrInvalidSignature},
		{"secret ignores skip flag", Policy{Secret: "s", SkipVerification: true}, "00", ErrInvalidSignature},
		{"no secret dev skip", Policy{SkipVerification: true}, "", nil},
		{"no secret dev no skip", Policy{}, good, ErrMissingSecret},
		{"no secret production skip", Policy{SkipVerification: true, Production: true}, "", ErrMissingSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Check(body, tt.header)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Check() = %v, want %v", err, tt.want)
			}
		})
	}

	if !(Policy{SkipVerification: true}).Bypassed() {
		t.Fatalf("dev skip policy should report bypass")
	}
	if (Policy{SkipVerification: true, Production: true}).Bypassed() {
		t.Fatalf("production must never bypass")
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		createdAt time.Time
		want      error
	}{
		{"just now", now, nil},
		{"four minutes old", now.Add(-4 * time.Minute), nil},
		{"exactly max age", now.Add(-MaxAge), ErrStale},
		{"ten minutes old", now.Add(-10 * time.Minute), ErrStale},
		{"thirty seconds ahead", now.Add(30 * time.Second), nil},
		{"exactly max skew ahead", now.Add(MaxFutureSkew), nil},
		{"two minutes ahead", now.Add(2 * time.Minute), ErrFromFuture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFreshness(tt.createdAt, now, MaxAge, MaxFutureSkew)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CheckFreshness() = %v, want %v", err, tt.want)
			}
		})
	}
}
