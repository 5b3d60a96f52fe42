// Package session issues and validates signed access tokens that record which
// resources a wallet has paid for, and a credit variant that carries a
// balance of prepaid uses.
//
// Tokens are self-contained HS256 JWTs. Nothing is stored server side, so a
// token stays valid until it expires even after a newer one is issued.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/mark3labs/paywall-go/validation"
)

const (
	MinSecretLength    = 32
	DefaultDuration    = 24 * time.Hour
	MinDuration        = time.Hour
	MaxDuration        = 720 * time.Hour
	DefaultMaxArticles = 50
	DefaultMaxCredits  = 1000

	// ReasonInvalid is the only reason reported for a token that fails
	// validation. The underlying cause is kept in Validation.Cause.
	ReasonInvalid = "invalid session"
)

var (
	ErrSecretTooShort   = fmt.Errorf("session: secret must be at least %d characters", MinSecretLength)
	ErrMalformedToken   = errors.New("session: malformed token")
	ErrTokenExpired     = errors.New("session: token expired")
	ErrMalformedPayload = errors.New("session: malformed payload")
	ErrInvalidWallet    = errors.New("session: invalid wallet address")
	ErrArticleLimit     = errors.New("session: article limit reached")
	ErrInvalidSession   = errors.New("session: invalid session")
)

// Config configures an Issuer.
type Config struct {
	// Secret signs tokens. At least MinSecretLength characters.
	Secret string

	// Duration is the token lifetime, clamped into [MinDuration, MaxDuration].
	// Zero means DefaultDuration.
	Duration time.Duration

	MaxArticles int
	MaxCredits  int

	// Cookie controls the cookie produced by Issuer.Cookie.
	Cookie CookieSettings

	Logger *slog.Logger
	Now    func() time.Time
}

// Issuer creates and validates tokens. Safe for concurrent use.
type Issuer struct {
	secret      []byte
	duration    time.Duration
	maxArticles int
	maxCredits  int
	cookie      CookieSettings
	logger      *slog.Logger
	now         func() time.Time
}

// NewIssuer validates config and returns an Issuer. A short secret is a
// configuration error and is reported here rather than at signing time.
func NewIssuer(config Config) (*Issuer, error) {
	if len(config.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	duration := config.Duration
	switch {
	case duration == 0:
		duration = DefaultDuration
	case duration < MinDuration:
		duration = MinDuration
	case duration > MaxDuration:
		duration = MaxDuration
	}

	i := &Issuer{
		secret:      []byte(config.Secret),
		duration:    duration,
		maxArticles: config.MaxArticles,
		maxCredits:  config.MaxCredits,
		cookie:      config.Cookie.withDefaults(),
		logger:      config.Logger,
		now:         config.Now,
	}
	if i.maxArticles <= 0 {
		i.maxArticles = DefaultMaxArticles
	}
	if i.maxCredits <= 0 {
		i.maxCredits = DefaultMaxCredits
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	if i.now == nil {
		i.now = time.Now
	}
	return i, nil
}

// Duration returns the effective token lifetime.
func (i *Issuer) Duration() time.Duration { return i.duration }

// MaxCredits returns the credit ceiling.
func (i *Issuer) MaxCredits() int { return i.maxCredits }

// claims is the signed payload shared by access and credit tokens.
type claims struct {
	jwt.Claims
	Articles     []string         `json:"articles"`
	SiteWide     bool             `json:"siteWide"`
	Credits      *int             `json:"credits,omitempty"`
	BundleExpiry *jwt.NumericDate `json:"bundleExpiry,omitempty"`
	BundleType   string           `json:"bundleType,omitempty"`
	CreatedAt    *jwt.NumericDate `json:"createdAt,omitempty"`
}

func (i *Issuer) sign(c claims) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: i.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create JWT signer: %w", err)
	}
	token, err := jwt.Signed(signer).Claims(c).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWT: %w", err)
	}
	return token, nil
}

// parse verifies the signature and the required claims and returns them.
func (i *Issuer) parse(token string) (claims, error) {
	var c claims

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return c, ErrMalformedToken
	}
	// Reject non-canonical encodings so a token has exactly one spelling.
	for _, p := range parts {
		if _, err := base64.RawURLEncoding.Strict().DecodeString(p); err != nil {
			return c, ErrMalformedToken
		}
	}

	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].Algorithm != string(jose.HS256) {
		return c, ErrMalformedToken
	}
	if err := parsed.Claims(i.secret, &c); err != nil {
		return c, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	if c.Subject == "" || c.ID == "" || c.Expiry == nil {
		return c, ErrMalformedPayload
	}
	if !i.now().Before(c.Expiry.Time()) {
		return c, ErrTokenExpired
	}
	if err := validation.ValidateAddress(c.Subject); err != nil {
		return c, ErrInvalidWallet
	}
	return c, nil
}

func (i *Issuer) reject(kind string, err error) {
	i.logger.Debug("session rejected", "kind", kind, "cause", err)
}
