package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Mode selects which provider environment signed a notification.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Candidate names one way of combining the timestamp and body into the signed
// string.
type Candidate string

const (
	CandidateTSDotBody   Candidate = "ts.body"
	CandidateTSColonBody Candidate = "ts:body"
	CandidateBodyDotTS   Candidate = "body.ts"
	CandidateBodyColonTS Candidate = "body:ts"
	CandidateBody        Candidate = "body"
)

// DefaultCandidates is every known signing layout, canonical first.
var DefaultCandidates = []Candidate{
	CandidateTSDotBody,
	CandidateTSColonBody,
	CandidateBodyDotTS,
	CandidateBodyColonTS,
	CandidateBody,
}

const DefaultMaxAge = 5 * time.Minute

// ParseCandidates parses a comma separated candidate list. An empty string
// yields DefaultCandidates.
func ParseCandidates(s string) ([]Candidate, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultCandidates, nil
	}
	var out []Candidate
	for _, part := range strings.Split(s, ",") {
		c := Candidate(strings.TrimSpace(part))
		switch c {
		case CandidateTSDotBody, CandidateTSColonBody, CandidateBodyDotTS, CandidateBodyColonTS, CandidateBody:
			out = append(out, c)
		default:
			return nil, fmt.Errorf("unknown signature candidate %q", c)
		}
	}
	return out, nil
}

func (c Candidate) message(ts string, body []byte) []byte {
	switch c {
	case CandidateTSDotBody:
		return join(ts, ".", body, false)
	case CandidateTSColonBody:
		return join(ts, ":", body, false)
	case CandidateBodyDotTS:
		return join(ts, ".", body, true)
	case CandidateBodyColonTS:
		return join(ts, ":", body, true)
	default:
		return body
	}
}

func join(ts, sep string, body []byte, bodyFirst bool) []byte {
	msg := make([]byte, 0, len(ts)+len(sep)+len(body))
	if bodyFirst {
		msg = append(msg, body...)
		msg = append(msg, sep...)
		return append(msg, ts...)
	}
	msg = append(msg, ts...)
	msg = append(msg, sep...)
	return append(msg, body...)
}

type VerifierConfig struct {
	SandboxSecret string
	LiveSecret    string
	MaxAge        time.Duration
	Candidates    []Candidate
}

// Verifier authenticates provider notifications with HMAC-SHA256.
type Verifier struct {
	secrets    map[Mode][]byte
	maxAge     time.Duration
	candidates []Candidate
	now        func() time.Time
}

func NewVerifier(cfg VerifierConfig) *Verifier {
	v := &Verifier{
		secrets: map[Mode][]byte{
			ModeSandbox: []byte(cfg.SandboxSecret),
			ModeLive:    []byte(cfg.LiveSecret),
		},
		maxAge:     cfg.MaxAge,
		candidates: cfg.Candidates,
		now:        time.Now,
	}
	if v.maxAge <= 0 {
		v.maxAge = DefaultMaxAge
	}
	if len(v.candidates) == 0 {
		v.candidates = DefaultCandidates
	}
	return v
}

// Verify reports whether signatureHeader is a valid, fresh signature of body
// under the secret for mode. It never panics and has no side effects.
func (v *Verifier) Verify(body []byte, signatureHeader, timestampHeader string, mode Mode) bool {
	secret := v.secrets[mode]
	if len(secret) == 0 {
		return false
	}

	hash, headerTS := parseSignatureHeader(signatureHeader)
	if hash == "" {
		return false
	}
	ts := strings.TrimSpace(timestampHeader)
	if ts == "" {
		ts = headerTS
	}
	if !v.fresh(ts) {
		return false
	}

	for _, c := range v.candidates {
		expected := computeHMAC(secret, c.message(ts, body))
		if hmac.Equal([]byte(expected), []byte(hash)) {
			return true
		}
	}
	return false
}

// Sign returns the canonical signature of body at ts for mode.
func (v *Verifier) Sign(body []byte, ts string, mode Mode) string {
	return computeHMAC(v.secrets[mode], CandidateTSDotBody.message(ts, body))
}

func (v *Verifier) fresh(ts string) bool {
	t, ok := parseTimestamp(ts)
	if !ok {
		return false
	}
	age := v.now().Sub(t)
	return age <= v.maxAge && age >= -v.maxAge
}

func computeHMAC(secret, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

// parseSignatureHeader accepts either "ts=...,v1=..." or a bare hex hash and
// returns the hash as sent plus any embedded timestamp. Hex case is
// significant: only the lowercase encoding verifies.
func parseSignatureHeader(header string) (hash, ts string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	if !strings.Contains(header, "=") {
		return header, ""
	}
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "v1":
			hash = strings.TrimSpace(val)
		case "ts", "t":
			ts = strings.TrimSpace(val)
		}
	}
	return hash, ts
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseTimestamp(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
