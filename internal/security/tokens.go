package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSigningKey is returned by Issue on a verify-only provider.
	ErrNoSigningKey = errors.New("token provider has no signing key")
)

// IngestClaims holds JWT claims for an ingestion token. Subject names the exporting client.
type IngestClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

// TokenProvider issues and validates ingestion JWTs using RS256 or ES256 (private/public key).
// The server only verifies; issuing is done by scopectl with the private key.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on Validate.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *TokenProvider {
	if publicKey == nil && privateKey != nil {
		publicKey = privateKey.Public()
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// NewVerifier returns a verify-only TokenProvider.
func NewVerifier(publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return NewTokenProvider(nil, publicKey, issuer, audience, 0)
}

// Issue issues an ingestion JWT for subject scoped to orgID. A zero ttl issues a token without expiry.
// Returns the token string and its expiration time (zero when it never expires).
func (p *TokenProvider) Issue(subject, orgID string) (token string, expiresAt time.Time, err error) {
	if p.privateKey == nil {
		return "", time.Time{}, ErrNoSigningKey
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	claims := IngestClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       jti,
			Subject:  subject,
			Issuer:   p.issuer,
			Audience: jwt.ClaimStrings{p.audience},
			IssuedAt: jwt.NewNumericDate(now),
		},
		OrgID: orgID,
	}
	if p.ttl != 0 {
		expiresAt = now.Add(p.ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// Validate parses and validates an ingestion token (signature, exp, iss, aud).
// Returns subject and orgID, or ErrInvalidToken.
func (p *TokenProvider) Validate(tokenString string) (subject, orgID string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &IngestClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*IngestClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return "", "", ErrInvalidToken
	}
	if !slices.Contains(claims.Audience, p.audience) {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.OrgID, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
