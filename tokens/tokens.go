// Package tokens issues and verifies the per-admin approval and rejection
// tokens carried in sanction emails.
package tokens

import (
	"errors"
	"fmt"
	"time"

	moderrors "github.com/amp-labs/osf-moderation/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Purpose says what a token may be used for.
type Purpose string

const (
	Approval  Purpose = "approval"
	Rejection Purpose = "rejection"
)

const issuer = "osf-moderation"

var (
	ErrSecretRequired = errors.New("token secret is required")
	ErrClaimMismatch  = errors.New("token does not match")
)

type claims struct {
	jwt.RegisteredClaims

	SanctionID string  `json:"sanction_id"`
	Purpose    Purpose `json:"purpose"`
}

// Issuer signs tokens with HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Issuer)

// WithTTL makes issued tokens expire. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret []byte, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrSecretRequired
	}

	i := &Issuer{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}

	return i, nil
}

// Issue returns a token binding userID to sanctionID for purpose.
func (i *Issuer) Issue(userID, sanctionID string, purpose Purpose) (string, error) {
	now := i.now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		SanctionID: sanctionID,
		Purpose:    purpose,
	}

	if i.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", purpose, err)
	}

	return signed, nil
}

// Verify checks that token was issued to userID for sanctionID and purpose.
// Any failure is an *errors.InvalidTokenError.
func (i *Issuer) Verify(token, userID, sanctionID string, purpose Purpose) error {
	invalid := func(err error) error {
		return &moderrors.InvalidTokenError{Purpose: string(purpose), Err: err}
	}

	if token == "" {
		return invalid(nil)
	}

	var c claims

	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(userID),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return invalid(err)
	}

	if c.SanctionID != sanctionID || c.Purpose != purpose {
		return invalid(ErrClaimMismatch)
	}

	return nil
}
