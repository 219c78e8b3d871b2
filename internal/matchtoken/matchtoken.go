// Package matchtoken mints and verifies the RS256 match tokens that bind a
// matchmaking assignment to a game connection, and exposes the signing key
// set in JWKS form for game nodes to validate against.
package matchtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL bounds how long an assignment token stays redeemable.
const DefaultTTL = 2 * time.Minute

// Claims are the match token claims. The game node requires the join
// envelope's land id to equal LandID.
type Claims struct {
	jwt.RegisteredClaims
	AssignmentID string `json:"assignmentId"`
	PlayerID     string `json:"playerId"`
	LandID       string `json:"landId"`
}

// Signer holds the control plane's RS256 signing key.
type Signer struct {
	key    *rsa.PrivateKey
	kid    string
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner wraps an existing key. The key id is derived from the public
// modulus so it is stable across restarts with the same key.
func NewSigner(key *rsa.PrivateKey, issuer string, ttl time.Duration) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("nil signing key")
	}
	if issuer == "" {
		issuer = "landrun-matchmaking"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sum := sha256.Sum256(key.PublicKey.N.Bytes())
	return &Signer{
		key:    key,
		kid:    base64.RawURLEncoding.EncodeToString(sum[:8]),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// GenerateSigner creates a fresh 2048-bit key. Used when no key file is
// configured; tokens then only survive as long as the process.
func GenerateSigner(issuer string, ttl time.Duration) (*Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return NewSigner(key, issuer, ttl)
}

// Mint issues a match token for one player of one assignment.
func (s *Signer) Mint(assignmentID, playerID, landID string) (token string, expiresAt time.Time, err error) {
	now := s.now()
	expiresAt = now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		AssignmentID: assignmentID,
		PlayerID:     playerID,
		LandID:       landID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid
	token, err = t.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing match token: %w", err)
	}
	return token, expiresAt, nil
}

// JWK is one RSA public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the key set served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS exports the signer's public key set.
func (s *Signer) JWKS() JWKS {
	pub := s.key.PublicKey
	return JWKS{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: s.kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
}

// ParseJWKS decodes a JWKS document.
func ParseJWKS(data []byte) (JWKS, error) {
	var set JWKS
	if err := json.Unmarshal(data, &set); err != nil {
		return JWKS{}, fmt.Errorf("parsing jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return JWKS{}, fmt.Errorf("jwks has no keys")
	}
	return set, nil
}

// Verifier validates match tokens against a JWKS.
type Verifier struct {
	keys   map[string]*rsa.PublicKey
	issuer string
}

// NewVerifier builds a verifier from a key set. issuer may be empty to
// skip issuer matching.
func NewVerifier(set JWKS, issuer string) (*Verifier, error) {
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("jwk %q: decoding modulus: %w", k.Kid, err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("jwk %q: decoding exponent: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks carries no usable RSA keys")
	}
	return &Verifier{keys: keys, issuer: issuer}, nil
}

// Verify checks signature, expiry and issuer, and returns the claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	var claims Claims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := v.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid match token: %w", err)
	}
	if claims.LandID == "" || claims.AssignmentID == "" {
		return nil, fmt.Errorf("match token missing assignment claims")
	}
	return &claims, nil
}
