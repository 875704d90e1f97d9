package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestGenerateVerify(t *testing.T) {
	opts := Options{Secret: []byte("s3cret"), TTL: time.Minute}
	tok, exp, err := Generate(opts, "650f1c2b9d3e4a5b6c7d8e9f")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("exp in the past: %v", exp)
	}
	c, err := Verify(opts, tok)
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID() != "650f1c2b9d3e4a5b6c7d8e9f" {
		t.Fatalf("user id = %q", c.UserID())
	}
}

func TestVerifyRejects(t *testing.T) {
	opts := Options{Secret: []byte("s3cret")}
	tok, _, _ := Generate(opts, "u1")

	if _, err := Verify(Options{Secret: []byte("other")}, tok); err == nil {
		t.Fatal("wrong secret accepted")
	}
	if _, err := Verify(Options{Secret: []byte("s3cret"), Alg: "HS512"}, tok); err == nil {
		t.Fatal("alg mismatch accepted")
	}
	if _, err := Verify(Options{Secret: []byte("s3cret"), Alg: "RS256"}, tok); err == nil {
		t.Fatal("unsupported alg accepted")
	}

	claims := jwtlib.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}
	old, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if _, err := Verify(opts, old); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestClaimsUserIDShapes(t *testing.T) {
	nested := &Claims{jwtlib.MapClaims{"user": map[string]any{"id": "a"}}}
	if nested.UserID() != "a" {
		t.Fatalf("nested = %q", nested.UserID())
	}
	sub := &Claims{jwtlib.MapClaims{"sub": "b"}}
	if sub.UserID() != "b" {
		t.Fatalf("sub = %q", sub.UserID())
	}

	tok, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"x": 1}).SignedString([]byte("k"))
	if _, err := Verify(Options{Secret: []byte("k")}, tok); err != ErrNoSubject {
		t.Fatalf("err = %v", err)
	}
}

func TestEmptySecretRejected(t *testing.T) {
	forged, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "victim"}).SignedString([]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(Options{}, forged); err != ErrNoSecret {
		t.Fatalf("verify with empty secret: err = %v", err)
	}
	if _, _, err := Generate(Options{}, "u1"); err != ErrNoSecret {
		t.Fatalf("generate with empty secret: err = %v", err)
	}
}
