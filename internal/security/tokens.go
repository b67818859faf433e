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
	// ErrUnsupportedKey is returned when the configured key cannot sign JWTs.
	ErrUnsupportedKey = errors.New("unsupported signing key")
)

// Token types carried in the typ claim.
const (
	TokenTypeRefresh = "refresh"
	TokenTypeAccess  = "access"
)

// TokenClaims is the JWT body shared by access and refresh tokens.
// Refresh tokens carry {sub, jti, typ, fam}; access tokens additionally carry sid.
type TokenClaims struct {
	jwt.RegisteredClaims
	Type      string `json:"typ"`
	FamilyID  string `json:"fam,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

// TokenPayload is the verified content of a token.
type TokenPayload struct {
	Subject   string
	TokenID   string
	Type      string
	FamilyID  string
	SessionID string
	ExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens using HS256 (shared secret)
// or RS256/ES256 (private/public key).
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if privateKey == nil || publicKey == nil {
		return nil, ErrUnsupportedKey
	}
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return nil, ErrUnsupportedKey
	}
	return &TokenProvider{
		method:    method,
		signKey:   privateKey,
		verifyKey: publicKey,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// NewHMACTokenProvider returns a TokenProvider that signs with a shared secret (HS256).
func NewHMACTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if len(secret) == 0 {
		return nil, ErrUnsupportedKey
	}
	return &TokenProvider{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source used for iat/exp and access token expiry checks.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	if now != nil {
		p.now = now
	}
	return p
}

// Alg returns the JWS algorithm name (HS256, RS256 or ES256).
func (p *TokenProvider) Alg() string {
	return p.method.Alg()
}

// SignRefresh signs a refresh token for payload valid for ttl. Type is forced to "refresh".
func (p *TokenProvider) SignRefresh(payload TokenPayload, ttl time.Duration) (string, error) {
	if payload.Subject == "" || payload.TokenID == "" || ttl <= 0 {
		return "", ErrInvalidToken
	}
	now := p.now().UTC()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        payload.TokenID,
			Subject:   payload.Subject,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:     TokenTypeRefresh,
		FamilyID: payload.FamilyID,
	}
	return p.sign(claims)
}

// VerifyRefresh checks signature, issuer and audience and returns the payload whatever its typ.
// The exp claim is not enforced here: refresh expiry is decided by the session store, after
// reuse detection, so a replayed expired token still counts as reuse.
func (p *TokenProvider) VerifyRefresh(tokenString string) (*TokenPayload, error) {
	claims, err := p.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	return claims.payload(), nil
}

// IssueAccess issues a short-lived access JWT bound to the refresh session that produced it.
// Returns the token string, its jti, and expiration time.
func (p *TokenProvider) IssueAccess(userID, sessionID, familyID string) (token string, jti string, expiresAt time.Time, err error) {
	jti, err = generateJTI()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:      TokenTypeAccess,
		FamilyID:  familyID,
		SessionID: sessionID,
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud, typ).
func (p *TokenProvider) ValidateAccess(tokenString string) (*TokenPayload, error) {
	claims, err := p.parse(tokenString, jwt.WithTimeFunc(p.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims.payload(), nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(p.method, claims)
	return t.SignedString(p.signKey)
}

func (p *TokenProvider) parse(tokenString string, opts ...jwt.ParserOption) (*TokenClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{p.method.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.verifyKey, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	if !slices.Contains(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *TokenClaims) payload() *TokenPayload {
	out := &TokenPayload{
		Subject:   c.Subject,
		TokenID:   c.ID,
		Type:      c.Type,
		FamilyID:  c.FamilyID,
		SessionID: c.SessionID,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
