package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/mark3labs/paywall-go/validation"
)

const (
	ReasonInsufficientCredits = "Insufficient credits"
	ReasonInvalidCreditAmount = "Credit amount must be greater than 0"
	ReasonBundleExpired       = "Credit bundle expired"
)

// Bundle describes the purchase a credit session came from.
type Bundle struct {
	Type   string
	Expiry *time.Time
}

// CreditSessionData is a session carrying a balance of prepaid uses.
type CreditSessionData struct {
	SessionData
	Credits      int        `json:"credits"`
	BundleExpiry *time.Time `json:"bundleExpiry,omitempty"`
	BundleType   string     `json:"bundleType,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// CreditToken is a signed credit token and its decoded content.
type CreditToken struct {
	Token   string
	Session CreditSessionData
}

// CreditValidation is the result of validating a credit token.
type CreditValidation struct {
	Valid   bool
	Session *CreditSessionData
	Reason  string
	Cause   error
}

// CreditResult is the outcome of UseCredit or AddCredits. On failure Token is
// empty and RemainingCredits is the unchanged balance when known.
type CreditResult struct {
	Success          bool
	Token            string
	RemainingCredits int
	Reason           string
}

func creditFromClaims(c claims) CreditSessionData {
	s := CreditSessionData{
		SessionData: sessionFromClaims(c),
		Credits:     *c.Credits,
		BundleType:  c.BundleType,
	}
	if c.BundleExpiry != nil {
		t := c.BundleExpiry.Time()
		s.BundleExpiry = &t
	}
	if c.CreatedAt != nil {
		s.CreatedAt = c.CreatedAt.Time()
	} else {
		s.CreatedAt = s.IssuedAt
	}
	return s
}

// CreateCredit issues a credit session for wallet. credits above the ceiling
// are clamped to it.
func (i *Issuer) CreateCredit(wallet string, credits int, bundle Bundle) (CreditToken, error) {
	if err := validation.ValidateAddress(wallet); err != nil {
		return CreditToken{}, fmt.Errorf("%w: %w", ErrInvalidWallet, err)
	}
	if credits < 0 {
		return CreditToken{}, fmt.Errorf("session: credits must not be negative, got %d", credits)
	}
	credits = min(credits, i.maxCredits)

	now := i.now()
	c := claims{
		Claims: jwt.Claims{
			Subject:  wallet,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(i.duration)),
		},
		Articles:   []string{},
		Credits:    &credits,
		BundleType: bundle.Type,
		CreatedAt:  jwt.NewNumericDate(now),
	}
	if bundle.Expiry != nil {
		c.BundleExpiry = jwt.NewNumericDate(*bundle.Expiry)
	}

	token, err := i.sign(c)
	if err != nil {
		return CreditToken{}, err
	}
	i.logger.Debug("credit session created", "session_id", c.ID, "wallet", wallet, "credits", credits)
	return CreditToken{Token: token, Session: creditFromClaims(c)}, nil
}

func (i *Issuer) parseCredit(token string) (claims, error) {
	c, err := i.parse(token)
	if err != nil {
		return c, err
	}
	if c.Credits == nil || *c.Credits < 0 {
		return c, ErrMalformedPayload
	}
	return c, nil
}

// ValidateCredit checks a credit token. Access tokens without a credit
// balance are rejected.
func (i *Issuer) ValidateCredit(token string) CreditValidation {
	c, err := i.parseCredit(token)
	if err != nil {
		i.reject("credit", err)
		return CreditValidation{Reason: ReasonInvalid, Cause: err}
	}
	s := creditFromClaims(c)
	return CreditValidation{Valid: true, Session: &s}
}

// UseCredit debits n credits. It never partially debits: if the balance is
// below n nothing changes. On success a new token is returned with every
// other claim, including expiry, preserved.
func (i *Issuer) UseCredit(token string, n int) CreditResult {
	if n <= 0 {
		return CreditResult{Reason: ReasonInvalidCreditAmount}
	}
	c, err := i.parseCredit(token)
	if err != nil {
		i.reject("credit", err)
		return CreditResult{Reason: ReasonInvalid}
	}

	balance := *c.Credits
	if c.BundleExpiry != nil && !i.now().Before(c.BundleExpiry.Time()) {
		return CreditResult{RemainingCredits: balance, Reason: ReasonBundleExpired}
	}
	if balance < n {
		return CreditResult{RemainingCredits: balance, Reason: ReasonInsufficientCredits}
	}

	return i.resignCredits(c, balance-n)
}

// AddCredits adds n credits, saturating at the ceiling.
func (i *Issuer) AddCredits(token string, n int) CreditResult {
	if n <= 0 {
		return CreditResult{Reason: ReasonInvalidCreditAmount}
	}
	c, err := i.parseCredit(token)
	if err != nil {
		i.reject("credit", err)
		return CreditResult{Reason: ReasonInvalid}
	}

	// Saturate at the ceiling, but never lower a balance that is already
	// above it (issued under a higher ceiling).
	balance := *c.Credits
	next := balance
	switch {
	case balance >= i.maxCredits:
	case n < i.maxCredits-balance:
		next = balance + n
	default:
		next = i.maxCredits
	}
	return i.resignCredits(c, next)
}

func (i *Issuer) resignCredits(c claims, credits int) CreditResult {
	c.Credits = &credits
	signed, err := i.sign(c)
	if err != nil {
		i.logger.Error("failed to sign credit session", "session_id", c.ID, "error", err)
		return CreditResult{RemainingCredits: credits, Reason: err.Error()}
	}
	return CreditResult{Success: true, Token: signed, RemainingCredits: credits}
}
