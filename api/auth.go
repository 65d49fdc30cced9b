package api

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuthTestMode     = "AUTH_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"

	// clockSkew is the leeway granted when checking time-based claims.
	clockSkew = time.Minute
)

var (
	errTokenExpired     = errors.New("token expired")
	errTokenNotYetValid = errors.New("token not valid yet")
	errTokenFromFuture  = errors.New("token issued in the future")
	errWrongAudience    = errors.New("token audience mismatch")
	errWrongIssuer      = errors.New("token issuer mismatch")
	errNoSubject        = errors.New("token has no subject")
)

// Auth resolves the user identity behind a request. Production tokens are
// RS256 signed and verified against the identity provider's JWKS; with
// AUTH_TEST_MODE=1 HS256 tokens signed with TEST_JWT_SECRET are accepted
// instead, so integration setups need no provider round trip.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth from the given JWKS and expected claims.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	a.keyCacheTTL = parseCacheTTL()

	if os.Getenv(envAuthTestMode) == "1" {
		secret := os.Getenv(envTestJWTSecret)
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}

	if a.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

func parseCacheTTL() time.Duration {
	ttl := defaultJWKSCacheTTL
	if raw := os.Getenv(envJWKSCacheTTL); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			panic("invalid JWKS_CACHE_TTL")
		}
		ttl = parsed
	}
	return ttl
}

// UserIDFromAuthHeader verifies the bearer token in an Authorization header
// value and returns the subject claim.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}

	var parsed *jwt.Token
	if a.TestMode {
		parsed, err = a.parser.Parse(token, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsed, err = a.parser.Parse(token, func(t *jwt.Token) (any, error) {
			return a.keyForToken(t)
		})
	}
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errBadAuthorization
	}
	return a.subjectFromClaims(claims)
}

// subjectFromClaims rechecks the claims the parser treats as optional.
// exp and sub are mandatory here; nbf, iat, aud and iss are enforced only
// when present or configured.
func (a *Auth) subjectFromClaims(claims jwt.MapClaims) (string, error) {
	now := time.Now().Add(clockSkew).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errTokenNotYetValid
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errTokenFromFuture
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errWrongAudience
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errWrongIssuer
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errNoSubject
	}
	return sub, nil
}

// keyForToken resolves the verification key for a token, caching JWKS
// lookups per kid so hot paths skip the keyfunc refresh machinery.
func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
