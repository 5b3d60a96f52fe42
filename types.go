package paywall

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SchemeExact is the only supported payment scheme: the observed transfer must
// be at least the required amount.
const SchemeExact = "exact"

// PaymentRequirement describes the payment a resource demands. Requirements are
// values; once issued they are encoded into a challenge and decoded unchanged.
type PaymentRequirement struct {
	// Scheme is always "exact".
	Scheme string

	// Network is the network identifier (NetworkMainnet or NetworkDevnet).
	Network string

	// Amount is the price in the asset's smallest unit. Always positive.
	Amount uint64

	// Resource identifies the protected thing (URL, path or URI).
	Resource string

	// Description is an optional human-readable payment description.
	Description string

	// PayTo is the recipient wallet address.
	PayTo string

	// MaxTimeoutSeconds bounds the age of an accepted transaction, in [60, 3600].
	MaxTimeoutSeconds int

	// Asset is what the amount is denominated in.
	Asset Asset

	// Extra carries optional scheme-specific information.
	Extra map[string]any
}

type requirementJSON struct {
	Scheme            string          `json:"scheme"`
	Network           string          `json:"network"`
	Amount            string          `json:"amount"`
	Resource          string          `json:"resource"`
	Description       string          `json:"description"`
	PayTo             string          `json:"payTo"`
	MaxTimeoutSeconds int             `json:"maxTimeoutSeconds"`
	Asset             json.RawMessage `json:"asset"`
	Extra             map[string]any  `json:"extra,omitempty"`
}

// MarshalJSON encodes the requirement in its wire form. The amount is written
// as a decimal string so it survives JavaScript clients intact.
func (r PaymentRequirement) MarshalJSON() ([]byte, error) {
	asset, err := marshalAsset(r.Asset)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requirementJSON{
		Scheme:            r.Scheme,
		Network:           r.Network,
		Amount:            strconv.FormatUint(r.Amount, 10),
		Resource:          r.Resource,
		Description:       r.Description,
		PayTo:             r.PayTo,
		MaxTimeoutSeconds: r.MaxTimeoutSeconds,
		Asset:             asset,
		Extra:             r.Extra,
	})
}

func (r *PaymentRequirement) UnmarshalJSON(data []byte) error {
	var raw requirementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(raw.Amount, 10, 64)
	if err != nil {
		return fmt.Errorf("amount: invalid format %q", raw.Amount)
	}
	asset, err := unmarshalAsset(raw.Asset)
	if err != nil {
		return err
	}
	*r = PaymentRequirement{
		Scheme:            raw.Scheme,
		Network:           raw.Network,
		Amount:            amount,
		Resource:          raw.Resource,
		Description:       raw.Description,
		PayTo:             raw.PayTo,
		MaxTimeoutSeconds: raw.MaxTimeoutSeconds,
		Asset:             asset,
		Extra:             raw.Extra,
	}
	return nil
}

// VerificationResult is the outcome of checking one signature against one
// requirement. Observed fields are set only when a matching transfer was found.
type VerificationResult struct {
	// Valid is true when the transaction paid the requirement.
	Valid bool `json:"valid"`

	// Confirmed is true when the transaction exists on chain, whether or not
	// it satisfied the requirement.
	Confirmed bool `json:"confirmed"`

	Signature string     `json:"signature"`
	From      string     `json:"from,omitempty"`
	To        string     `json:"to,omitempty"`
	Amount    uint64     `json:"amount,omitempty"`
	Mint      string     `json:"mint,omitempty"`
	BlockTime *time.Time `json:"blockTime,omitempty"`
	Slot      uint64     `json:"slot,omitempty"`

	// Error is a human-readable reason when Valid is false.
	Error string `json:"error,omitempty"`
}

// SignatureUsage records that a transaction signature unlocked a resource.
type SignatureUsage struct {
	Signature     string    `json:"signature"`
	ResourceID    string    `json:"resourceId"`
	UsedAt        time.Time `json:"usedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	WalletAddress string    `json:"walletAddress,omitempty"`
}

// Expired reports whether the usage record is no longer live at now.
func (u SignatureUsage) Expired(now time.Time) bool {
	return !now.Before(u.ExpiresAt)
}

// PaymentEventType is the kind of a client-side payment lifecycle event.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "payment_attempt"
	PaymentEventSuccess PaymentEventType = "payment_success"
	PaymentEventFailure PaymentEventType = "payment_failure"
)

// PaymentEvent describes one step of a client paying for a resource.
type PaymentEvent struct {
	Type      PaymentEventType
	Timestamp time.Time
	Method    string
	URL       string
	Network   string
	Amount    uint64
	Recipient string
	Signature string
	Error     error
	Duration  time.Duration
}

// PaymentCallback is invoked for payment lifecycle events.
type PaymentCallback func(event PaymentEvent)

// ClientInfo is the scheme and network the paying client used.
type ClientInfo struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// PaymentProof identifies the on-chain payment.
type PaymentProof struct {
	Signature string `json:"signature"`
}

// Authorization is what a client submits after paying a challenge.
type Authorization struct {
	AcceptedRequirement PaymentRequirement `json:"acceptedRequirement"`
	Client              ClientInfo         `json:"client"`
	Payment             PaymentProof       `json:"payment"`
}

// Settlement is returned to the client once a payment has been redeemed.
type Settlement struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Network   string `json:"network,omitempty"`
	Payer     string `json:"payer,omitempty"`
	Error     string `json:"error,omitempty"`
}
