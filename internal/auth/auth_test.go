package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/echoproof/echo/internal/auth"
	"github.com/echoproof/echo/internal/evm"
	"github.com/gin-gonic/gin"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

const keyOne = "0000000000000000000000000000000000000000000000000000000000000001"

func newIssuer(t *testing.T, ttl time.Duration) *auth.TokenIssuer {
	t.Helper()
	ti, err := auth.NewTokenIssuer(secret, "https://echo.test", ttl)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func TestNewTokenIssuer_shortSecret(t *testing.T) {
	if _, err := auth.NewTokenIssuer([]byte("short"), "x", 0); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestTokenIssuer_roundTrip(t *testing.T) {
	ti := newIssuer(t, time.Hour)
	tok, err := ti.Issue("0xAbC")
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Address != "0xAbC" {
		t.Errorf("Address: got %q", claims.Address)
	}
	if claims.ID == "" {
		t.Error("expected a jti")
	}
}

func TestTokenIssuer_Verify_expired(t *testing.T) {
	ti := newIssuer(t, time.Nanosecond)
	tok, err := ti.Issue("0xAbC")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := ti.Verify(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenIssuer_Verify_wrongSecretOrIssuer(t *testing.T) {
	tok, _ := newIssuer(t, time.Hour).Issue("0xAbC")

	other, _ := auth.NewTokenIssuer([]byte("ffffffffffffffffffffffffffffffff"), "https://echo.test", time.Hour)
	if _, err := other.Verify(tok); err == nil {
		t.Error("expected failure with a different secret")
	}
	wrongIss, _ := auth.NewTokenIssuer(secret, "https://elsewhere", time.Hour)
	if _, err := wrongIss.Verify(tok); err == nil {
		t.Error("expected failure with a different issuer")
	}
}

func TestChallenges_signIn(t *testing.T) {
	signer, err := evm.NewKeySigner(keyOne)
	if err != nil {
		t.Fatal(err)
	}
	cs := auth.NewChallenges(time.Minute)

	ch, err := cs.Issue(strings.ToLower(signer.Address()))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if ch.Address != signer.Address() {
		t.Errorf("challenge address not checksummed: %q", ch.Address)
	}
	if !strings.Contains(ch.Message, ch.Nonce) {
		t.Error("message does not embed the nonce")
	}

	sig, err := signer.Sign(context.Background(), ch.Message)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := cs.Redeem(signer.Address(), sig.Signature)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if addr != signer.Address() {
		t.Errorf("Redeem address: got %q", addr)
	}

	if _, err := cs.Redeem(signer.Address(), sig.Signature); !errors.Is(err, auth.ErrNoChallenge) {
		t.Errorf("replay: expected ErrNoChallenge, got %v", err)
	}
}

func TestChallenges_wrongSigner(t *testing.T) {
	owner, _ := evm.NewKeySigner(keyOne)
	thief, _ := evm.GenerateKeySigner()
	cs := auth.NewChallenges(time.Minute)

	ch, _ := cs.Issue(owner.Address())
	sig, _ := thief.Sign(context.Background(), ch.Message)
	if _, err := cs.Redeem(owner.Address(), sig.Signature); !errors.Is(err, auth.ErrBadSignature) {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}

	good, _ := owner.Sign(context.Background(), ch.Message)
	if _, err := cs.Redeem(owner.Address(), good.Signature); err != nil {
		t.Errorf("challenge should survive a failed attempt: %v", err)
	}
}

func TestChallenges_expired(t *testing.T) {
	owner, _ := evm.NewKeySigner(keyOne)
	cs := auth.NewChallenges(time.Millisecond)
	ch, _ := cs.Issue(owner.Address())
	time.Sleep(5 * time.Millisecond)
	sig, _ := owner.Sign(context.Background(), ch.Message)
	if _, err := cs.Redeem(owner.Address(), sig.Signature); !errors.Is(err, auth.ErrNoChallenge) {
		t.Errorf("expected ErrNoChallenge, got %v", err)
	}
}

func TestChallenges_invalidAddress(t *testing.T) {
	if _, err := auth.NewChallenges(0).Issue("not-an-address"); !errors.Is(err, evm.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestRequireToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ti := newIssuer(t, time.Hour)
	r := gin.New()
	r.GET("/me", auth.RequireToken(ti), func(c *gin.Context) {
		c.String(http.StatusOK, auth.AddressFromCtx(c))
	})

	tok, _ := ti.Issue("0xAbC")
	tests := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token " + tok, http.StatusUnauthorized},
		{"Bearer garbage", http.StatusUnauthorized},
		{"Bearer " + tok, http.StatusOK},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("header %q: expected %d, got %d", tt.header, tt.status, w.Code)
		}
		if tt.status == http.StatusOK && w.Body.String() != "0xAbC" {
			t.Errorf("address from context: got %q", w.Body.String())
		}
	}
}
