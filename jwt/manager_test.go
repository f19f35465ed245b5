package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func TestIssueCarriesRoleClaim(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "vejapro-dev",
	})
	require.NoError(t, err)

	token, exp, err := m.Issue(Identity{Subject: "u1", Email: "a@example.com", Role: "expert"})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 2*time.Second)

	role, ok := RoleOf(token)
	require.True(t, ok)
	require.Equal(t, "EXPERT", role)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "a@example.com", claims.Email)
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PublicKey: pub})
	require.NoError(t, err)

	claims := Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredAndForeignIssuer(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "vejapro-dev",
		Audience:      "portal",
	})
	require.NoError(t, err)

	expired, _, err := m.IssueWithTTL(Identity{Subject: "u1", Role: "admin"}, -time.Minute)
	require.NoError(t, err)
	_, err = m.Verify(expired)
	require.Error(t, err)

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "someone-else",
		Audience:      "portal",
	})
	require.NoError(t, err)
	foreign, _, err := other.Issue(Identity{Subject: "u1"})
	require.NoError(t, err)
	_, err = m.Verify(foreign)
	require.Error(t, err)

	valid, _, err := m.Issue(Identity{Subject: "u1"})
	require.NoError(t, err)
	_, err = m.Verify(valid)
	require.NoError(t, err)
}

func TestNewManagerValidation(t *testing.T) {
	pub, _ := newEdKeys(t)

	_, err := NewManager(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")})
	require.Error(t, err)

	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256})
	require.Error(t, err)

	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519})
	require.Error(t, err)

	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs256", PublicKey: pub})
	require.Error(t, err)

	_, err = NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour})
	require.Error(t, err)
}

func TestIssueRequiresSubject(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k")})
	require.NoError(t, err)

	_, _, err = m.Issue(Identity{Role: "admin"})
	require.Error(t, err)
}
