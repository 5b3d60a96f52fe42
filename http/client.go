package http

import (
	"fmt"
	"net/http"

	paywall "github.com/mark3labs/paywall-go"
	"github.com/mark3labs/paywall-go/agent"
)

// Client is an HTTP client that pays 402 challenges with an agent key.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a paying HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets the underlying HTTP client. Apply it first.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithPayer sets who pays challenges.
func WithPayer(payer Payer) ClientOption {
	return func(c *Client) error {
		if payer == nil {
			return fmt.Errorf("payer cannot be nil")
		}
		getOrCreateTransport(c).Payer = payer
		return nil
	}
}

// WithMaxAmount refuses to pay more than amount base units per request.
func WithMaxAmount(amount uint64) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).MaxAmount = amount
		return nil
	}
}

// WithPaymentOptions sets options applied to every payment.
func WithPaymentOptions(opts agent.PaymentRequest) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).PaymentOptions = opts
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType paywall.PaymentEventType, callback paywall.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		switch eventType {
		case paywall.PaymentEventAttempt:
			transport.OnPaymentAttempt = callback
		case paywall.PaymentEventSuccess:
			transport.OnPaymentSuccess = callback
		case paywall.PaymentEventFailure:
			transport.OnPaymentFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

func getOrCreateTransport(c *Client) *PaymentTransport {
	transport, ok := c.Transport.(*PaymentTransport)
	if !ok {
		transport = &PaymentTransport{Base: c.Transport}
		c.Transport = transport
	}
	return transport
}

// GetSettlement extracts the settlement from a response, or nil.
func GetSettlement(resp *http.Response) *paywall.Settlement {
	settlement, err := parseSettlement(resp.Header.Get(HeaderPaymentResponse))
	if err != nil {
		return nil
	}
	return settlement
}
