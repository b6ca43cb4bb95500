package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Secret is a string that redacts itself when printed or serialized.
type Secret string

const secretRedacted = "[REDACTED]"

func (s Secret) String() string   { return secretRedacted }
func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted text.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// minSigningKeyLen is the minimum HS256 key length in bytes.
const minSigningKeyLen = 32

// sessionClaims are the claims of a session capability token.
type sessionClaims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session capability tokens. A token
// carries only the session id; permissions stay on the server and are
// resolved through the Manager on every use.
type TokenIssuer struct {
	key    Secret
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer. ttl caps the token lifetime below the
// session's own expiry; zero uses the session expiry alone.
func NewTokenIssuer(key Secret, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(key.Value()) < minSigningKeyLen {
		return nil, sserr.Newf(sserr.CodeValidationRange,
			"security: signing key must be at least %d bytes", minSigningKeyLen)
	}
	if issuer == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "security: token issuer is required")
	}
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for sc.
func (ti *TokenIssuer) Issue(sc *SecurityContext) (string, error) {
	now := ti.now()
	exp := sc.ExpiresAt
	if ti.ttl > 0 && (exp.IsZero() || now.Add(ti.ttl).Before(exp)) {
		exp = now.Add(ti.ttl)
	}
	claims := sessionClaims{
		OrgID: sc.OrgID,
		Role:  sc.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   sc.UserID,
			ID:        sc.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ti.key.Value()))
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "security: failed to sign token")
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of token and returns the
// session id it names. Only HS256 is accepted.
func (ti *TokenIssuer) Verify(token string) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(ti.key.Value()), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return "", classifyTokenError(err)
	}
	if claims.ID == "" {
		return "", sserr.New(sserr.CodeAuthenticationInvalid, "security: token names no session")
	}
	return claims.ID, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeAuthenticationExpired, "security: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "security: token is malformed")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "security: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "security: token issuer is invalid")
	default:
		return sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "security: token validation failed")
	}
}

// IssueToken returns a capability token for a live session.
func (m *Manager) IssueToken(sessionID string) (string, error) {
	if m.tokens == nil {
		return "", sserr.New(sserr.CodeInternalConfiguration, "security: token signing is not configured")
	}
	sc, ok := m.GetSecurityContext(sessionID)
	if !ok {
		return "", sserr.NotFoundf("security: session %q not found", sessionID)
	}
	return m.tokens.Issue(sc)
}

// ContextFromToken verifies token and returns the live context it names.
// A valid token for a reaped session is rejected.
func (m *Manager) ContextFromToken(token string) (*SecurityContext, error) {
	if m.tokens == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "security: token signing is not configured")
	}
	sessionID, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	sc, ok := m.GetSecurityContext(sessionID)
	if !ok {
		return nil, sserr.Newf(sserr.CodeAuthenticationExpired, "security: session %q is no longer active", sessionID)
	}
	return sc, nil
}
