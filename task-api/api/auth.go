package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"taskmanager/domain"
)

const defaultKeyCacheTTL = 15 * time.Minute

// Principal is the verified caller of a request.
type Principal struct {
	Subject string
	Email   string
	Name    string
}

// AuthOptions configures an Auth. A non-empty TestSecret switches the
// verifier to HS256 tokens signed with that secret.
type AuthOptions struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates bearer tokens.
type Auth struct {
	jwks       *keyfunc.JWKS
	audience   string
	issuer     string
	testSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth from opts.
func NewAuth(opts AuthOptions) *Auth {
	a := &Auth{
		jwks:        opts.JWKS,
		audience:    opts.Audience,
		issuer:      opts.Issuer,
		testSecret:  opts.TestSecret,
		keyCacheTTL: opts.KeyCacheTTL,
		now:         time.Now,
	}
	if a.keyCacheTTL <= 0 {
		a.keyCacheTTL = defaultKeyCacheTTL
	}
	if a.TestMode() {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// TestMode reports whether tokens are checked against the shared secret.
func (a *Auth) TestMode() bool { return len(a.testSecret) > 0 }

// Verify authenticates an Authorization header value.
func (a *Auth) Verify(header string) (Principal, error) {
	token, err := bearerToken(header)
	if err != nil {
		return Principal{}, &domain.AuthError{Reason: err.Error()}
	}
	p, err := a.verifyToken(token)
	if err != nil {
		return Principal{}, &domain.AuthError{Reason: "invalid token", Err: err}
	}
	return p, nil
}

func (a *Auth) verifyToken(token string) (Principal, error) {
	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if a.TestMode() {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.testSecret, nil
		}
		return a.keyForToken(t)
	})
	if err != nil {
		return Principal{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid claims")
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return Principal{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(time.Minute).Unix(), false) {
		return Principal{}, errors.New("token not valid yet")
	}
	if a.audience != "" && !claims.VerifyAudience(a.audience, true) {
		return Principal{}, errors.New("invalid audience")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return Principal{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, errors.New("missing sub")
	}
	p := Principal{Subject: sub}
	p.Email, _ = claims["email"].(string)
	p.Name, _ = claims["name"].(string)
	return p, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.jwks == nil {
		return nil, errors.New("jwks not configured")
	}
	kid, _ := token.Header["kid"].(string)
	if kid != "" {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}
	key, err := a.jwks.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
