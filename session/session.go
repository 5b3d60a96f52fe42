package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/mark3labs/paywall-go/validation"
)

// SessionData is the decoded content of an access token.
type SessionData struct {
	ID               string    `json:"id"`
	WalletAddress    string    `json:"walletAddress"`
	UnlockedArticles []string  `json:"unlockedArticles"`
	SiteWide         bool      `json:"siteWideUnlock"`
	IssuedAt         time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// HasArticle reports whether the session unlocks resourceID.
func (s SessionData) HasArticle(resourceID string) bool {
	return s.SiteWide || slices.Contains(s.UnlockedArticles, resourceID)
}

// Token is a signed token and the session it encodes.
type Token struct {
	Token   string
	Session SessionData
}

// Validation is the result of validating an access token.
type Validation struct {
	Valid   bool
	Session *SessionData
	// Reason is ReasonInvalid when Valid is false.
	Reason string
	// Cause is the internal reason. Never expose it to clients.
	Cause error
}

func sessionFromClaims(c claims) SessionData {
	s := SessionData{
		ID:               c.ID,
		WalletAddress:    c.Subject,
		UnlockedArticles: append([]string{}, c.Articles...),
		SiteWide:         c.SiteWide,
		ExpiresAt:        c.Expiry.Time(),
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time()
	}
	return s
}

// Create issues a new session for wallet. resourceID, when not empty, is the
// first unlocked article.
func (i *Issuer) Create(wallet, resourceID string, siteWide bool) (Token, error) {
	if err := validation.ValidateAddress(wallet); err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrInvalidWallet, err)
	}

	now := i.now()
	c := claims{
		Claims: jwt.Claims{
			Subject:  wallet,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(i.duration)),
		},
		Articles: []string{},
		SiteWide: siteWide,
	}
	if resourceID != "" {
		c.Articles = append(c.Articles, resourceID)
	}

	token, err := i.sign(c)
	if err != nil {
		return Token{}, err
	}
	i.logger.Debug("session created", "session_id", c.ID, "wallet", wallet, "site_wide", siteWide)
	return Token{Token: token, Session: sessionFromClaims(c)}, nil
}

// Validate checks token integrity, expiry and payload shape.
func (i *Issuer) Validate(token string) Validation {
	c, err := i.parse(token)
	if err != nil {
		i.reject("access", err)
		return Validation{Reason: ReasonInvalid, Cause: err}
	}
	s := sessionFromClaims(c)
	return Validation{Valid: true, Session: &s}
}

// AddArticle returns a token that also unlocks resourceID. It is idempotent:
// if the resource is already unlocked the same token is returned unchanged.
// The session id and expiry are preserved.
func (i *Issuer) AddArticle(token, resourceID string) (Token, error) {
	c, err := i.parse(token)
	if err != nil {
		i.reject("access", err)
		return Token{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if c.SiteWide || slices.Contains(c.Articles, resourceID) {
		return Token{Token: token, Session: sessionFromClaims(c)}, nil
	}
	if len(c.Articles) >= i.maxArticles {
		return Token{}, ErrArticleLimit
	}

	c.Articles = append(c.Articles, resourceID)
	signed, err := i.sign(c)
	if err != nil {
		return Token{}, err
	}
	return Token{Token: signed, Session: sessionFromClaims(c)}, nil
}

// IsArticleUnlocked reports whether token is valid and unlocks resourceID.
func (i *Issuer) IsArticleUnlocked(token, resourceID string) bool {
	v := i.Validate(token)
	return v.Valid && v.Session.HasArticle(resourceID)
}
