// Package signing verifies Ed25519 signatures on realtime events so that only
// backend-issued progress reports can move cached remediation state.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxSkew is how far an event timestamp may drift from local time.
const DefaultMaxSkew = 30 * time.Second

// signing fields carried alongside the event body
const (
	fieldSignature = "sig"
	fieldTimestamp = "ts"
	fieldNonce     = "nonce"
	fieldIssuer    = "issuer"
)

// ErrRejected matches every *RejectedError.
var ErrRejected = errors.New("event rejected")

// RejectedError explains why an event failed verification.
type RejectedError struct {
	Reason string
	Issuer string
}

func (e *RejectedError) Error() string {
	if e.Issuer == "" {
		return "event rejected: " + e.Reason
	}
	return fmt.Sprintf("event rejected (issuer %s): %s", e.Issuer, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// canonical is what gets signed: the event body with sorted keys plus the
// signing metadata.
type canonical struct {
	Event     json.RawMessage `json:"event"`
	Timestamp int64           `json:"ts"`
	Nonce     string          `json:"nonce"`
	Issuer    string          `json:"issuer"`
}

type envelope struct {
	Signature string `json:"sig"`
	Timestamp int64  `json:"ts"`
	Nonce     string `json:"nonce"`
	Issuer    string `json:"issuer"`
}

// Verifier checks signed events against one public key.
type Verifier struct {
	pubKey  ed25519.PublicKey
	maxSkew time.Duration
	nonces  *NonceStore
	now     func() time.Time
}

// NewVerifier creates a Verifier that accepts events signed by pubKey.
func NewVerifier(pubKey ed25519.PublicKey) *Verifier {
	return &Verifier{
		pubKey:  pubKey,
		maxSkew: DefaultMaxSkew,
		nonces:  NewNonceStore(DefaultMaxSkew * 2),
		now:     time.Now,
	}
}

// ParsePublicKey decodes a hex or base64 Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty public key")
	}
	if len(s) == hex.EncodedLen(ed25519.PublicKeySize) {
		if b, err := hex.DecodeString(s); err == nil {
			return ed25519.PublicKey(b), nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == ed25519.PublicKeySize {
			return ed25519.PublicKey(b), nil
		}
	}
	return nil, errors.New("invalid public key: want 32 bytes, hex or base64 encoded")
}

// Verify checks signature, freshness and nonce of a signed event and returns
// the event body with the signing fields removed.
func (v *Verifier) Verify(raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &RejectedError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if env.Signature == "" {
		return nil, &RejectedError{Reason: "missing signature"}
	}
	if env.Nonce == "" {
		return nil, &RejectedError{Reason: "missing nonce", Issuer: env.Issuer}
	}

	skew := v.now().Sub(time.Unix(env.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return nil, &RejectedError{Reason: fmt.Sprintf("timestamp skew %s exceeds %s", skew.Round(time.Second), v.maxSkew), Issuer: env.Issuer}
	}

	body, err := stripSigningFields(raw)
	if err != nil {
		return nil, &RejectedError{Reason: err.Error(), Issuer: env.Issuer}
	}
	msg, err := json.Marshal(canonical{Event: body, Timestamp: env.Timestamp, Nonce: env.Nonce, Issuer: env.Issuer})
	if err != nil {
		return nil, &RejectedError{Reason: fmt.Sprintf("build canonical form: %v", err), Issuer: env.Issuer}
	}

	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		if sig, err = base64.RawStdEncoding.DecodeString(env.Signature); err != nil {
			return nil, &RejectedError{Reason: "invalid signature encoding", Issuer: env.Issuer}
		}
	}
	if !ed25519.Verify(v.pubKey, msg, sig) {
		return nil, &RejectedError{Reason: "signature verification failed", Issuer: env.Issuer}
	}

	// nonce is only consumed by an authentic event
	if !v.nonces.Add(env.Nonce) {
		return nil, &RejectedError{Reason: "duplicate nonce", Issuer: env.Issuer}
	}
	return body, nil
}

// Sign attaches a signature to event. Used by tests and by backends that
// publish into the feed.
func Sign(priv ed25519.PrivateKey, event []byte, ts time.Time, nonce, issuer string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(event, &m); err != nil {
		return nil, fmt.Errorf("sign: event must be a JSON object: %w", err)
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	msg, err := json.Marshal(canonical{Event: body, Timestamp: ts.Unix(), Nonce: nonce, Issuer: issuer})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig := ed25519.Sign(priv, msg)

	set := func(k string, v any) {
		b, _ := json.Marshal(v)
		m[k] = b
	}
	set(fieldSignature, base64.StdEncoding.EncodeToString(sig))
	set(fieldTimestamp, ts.Unix())
	set(fieldNonce, nonce)
	set(fieldIssuer, issuer)
	return json.Marshal(m)
}

// stripSigningFields returns raw without the signing fields, re-encoded with
// sorted keys.
func stripSigningFields(raw []byte) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("event must be a JSON object: %w", err)
	}
	for _, k := range []string{fieldSignature, fieldTimestamp, fieldNonce, fieldIssuer} {
		delete(m, k)
	}
	return json.Marshal(m)
}
