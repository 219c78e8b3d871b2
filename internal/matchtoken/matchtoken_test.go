package matchtoken

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify_RoundTrip(t *testing.T) {
	signer, err := GenerateSigner("test-issuer", time.Minute)
	require.NoError(t, err)

	token, exp, err := signer.Mint("asg-1", "p1", "duel:i1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	// The consumer sees only the serialized JWKS, as over HTTP.
	data, err := json.Marshal(signer.JWKS())
	require.NoError(t, err)
	set, err := ParseJWKS(data)
	require.NoError(t, err)

	v, err := NewVerifier(set, "test-issuer")
	require.NoError(t, err)
	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "asg-1", claims.AssignmentID)
	assert.Equal(t, "p1", claims.PlayerID)
	assert.Equal(t, "duel:i1", claims.LandID)
	assert.NotEmpty(t, claims.ID, "tokens must carry a jti")
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	signer, err := GenerateSigner("iss", time.Minute)
	require.NoError(t, err)
	other, err := GenerateSigner("iss", time.Minute)
	require.NoError(t, err)

	token, _, err := other.Mint("asg-1", "p1", "duel:i1")
	require.NoError(t, err)

	v, err := NewVerifier(signer.JWKS(), "iss")
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.Error(t, err, "token signed by a different key must fail")
}

func TestVerify_RejectsExpired(t *testing.T) {
	signer, err := GenerateSigner("iss", time.Minute)
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, _, err := signer.Mint("asg-1", "p1", "duel:i1")
	require.NoError(t, err)

	v, err := NewVerifier(signer.JWKS(), "iss")
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerify_RejectsWrongIssuer(t *testing.T) {
	signer, err := GenerateSigner("iss-a", time.Minute)
	require.NoError(t, err)
	token, _, err := signer.Mint("asg-1", "p1", "duel:i1")
	require.NoError(t, err)

	v, err := NewVerifier(signer.JWKS(), "iss-b")
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestParseJWKS_Empty(t *testing.T) {
	_, err := ParseJWKS([]byte(`{"keys":[]}`))
	assert.Error(t, err)
}
