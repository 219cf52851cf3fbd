package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

const progressEvent = `{"type":"remediation.progress","remediationId":"r1","anomalyId":"a1","to":"In Progress"}`

func keyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return pub, priv
}

func sign(t *testing.T, priv ed25519.PrivateKey, ts time.Time, nonce string) []byte {
	t.Helper()
	out, err := Sign(priv, []byte(progressEvent), ts, nonce, "backend")
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestVerifyValidEvent(t *testing.T) {
	pub, priv := keyPair(t)
	v := NewVerifier(pub)

	body, err := v.Verify(sign(t, priv, time.Now(), "n1"))
	if err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
	if strings.Contains(string(body), `"sig"`) || strings.Contains(string(body), `"nonce"`) {
		t.Errorf("signing fields should be stripped, got %s", body)
	}
	if !strings.Contains(string(body), `"remediationId":"r1"`) {
		t.Errorf("event body lost, got %s", body)
	}
}

func TestVerifyRejections(t *testing.T) {
	pub, priv := keyPair(t)
	otherPub, _ := keyPair(t)

	tampered := strings.Replace(string(sign(t, priv, time.Now(), "t1")), "In Progress", "Completed", 1)

	tests := []struct {
		name   string
		key    ed25519.PublicKey
		raw    []byte
		reason string
	}{
		{"stale timestamp", pub, sign(t, priv, time.Now().Add(-2*time.Minute), "s1"), "skew"},
		{"future timestamp", pub, sign(t, priv, time.Now().Add(2*time.Minute), "f1"), "skew"},
		{"wrong key", otherPub, sign(t, priv, time.Now(), "w1"), "verification failed"},
		{"missing signature", pub, []byte(progressEvent), "missing signature"},
		{"missing nonce", pub, []byte(`{"type":"x","sig":"abc","ts":1}`), "missing nonce"},
		{"tampered body", pub, []byte(tampered), "verification failed"},
		{"not json", pub, []byte(`nope`), "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.key).Verify(tt.raw)
			if !errors.Is(err, ErrRejected) {
				t.Fatalf("expected rejection, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.reason)
			}
		})
	}
}

func TestVerifyReplay(t *testing.T) {
	pub, priv := keyPair(t)
	v := NewVerifier(pub)
	raw := sign(t, priv, time.Now(), "same")

	if _, err := v.Verify(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Verify(raw); err == nil || !strings.Contains(err.Error(), "duplicate nonce") {
		t.Errorf("expected replay rejection, got %v", err)
	}
}

func TestForgedEventDoesNotBurnNonce(t *testing.T) {
	pub, priv := keyPair(t)
	_, forger := keyPair(t)
	v := NewVerifier(pub)

	if _, err := v.Verify(sign(t, forger, time.Now(), "n1")); err == nil {
		t.Fatal("forged event accepted")
	}
	if _, err := v.Verify(sign(t, priv, time.Now(), "n1")); err != nil {
		t.Errorf("authentic event with the same nonce should pass, got %v", err)
	}
}

func TestParsePublicKey(t *testing.T) {
	pub, _ := keyPair(t)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"hex", hex.EncodeToString(pub), false},
		{"base64", base64.StdEncoding.EncodeToString(pub), false},
		{"raw url base64", base64.RawURLEncoding.EncodeToString(pub), false},
		{"padded", "  " + hex.EncodeToString(pub) + "\n", false},
		{"empty", "", true},
		{"short", "abcd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePublicKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(pub) {
				t.Error("decoded key differs")
			}
		})
	}
}

func TestNonceStoreGC(t *testing.T) {
	s := NewNonceStore(10 * time.Millisecond)
	s.Add("old")
	time.Sleep(20 * time.Millisecond)
	if !s.Add("new") {
		t.Fatal("new nonce rejected")
	}
	if s.Len() != 1 {
		t.Errorf("expired nonce should be collected, have %d", s.Len())
	}
}

func TestNonceStoreConcurrent(t *testing.T) {
	s := NewNonceStore(time.Minute)
	var wg sync.WaitGroup
	accepted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted <- s.Add(fmt.Sprintf("n%d", i%10))
		}(i)
	}
	wg.Wait()
	close(accepted)

	n := 0
	for ok := range accepted {
		if ok {
			n++
		}
	}
	if n != 10 {
		t.Errorf("expected 10 unique nonces accepted, got %d", n)
	}
}
