package rmapi

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/rmpay/errs"
)

// OrderSpec describes one payment order to create. Reference is the
// composite provider reference assigned by the caller.
type OrderSpec struct {
	Reference   string
	OrderID     string
	Title       string
	Detail      string
	Amount      decimal.Decimal
	Currency    string
	RedirectURL string
	NotifyURL   string
}

// Checkout is the provider's answer to a created order.
type Checkout struct {
	CheckoutID string `json:"checkoutId"`
	URL        string `json:"url"`
}

// OrderStatus is the provider's view of one transaction.
type OrderStatus struct {
	Status        string `json:"status"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
}

// MinorUnits converts a decimal currency amount into integer minor units,
// e.g. 19.99 MYR becomes 1999.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CreateOrder registers the order with the provider and returns the hosted
// checkout to redirect the payer to.
func (c *Client) CreateOrder(ctx context.Context, spec OrderSpec) (Checkout, error) {
	if strings.TrimSpace(spec.Reference) == "" {
		return Checkout{}, errs.New("rmapi.create_order", errs.CodeInvalid,
			errs.WithMessage("order reference is required"))
	}
	if strings.TrimSpace(spec.Currency) == "" {
		return Checkout{}, errs.New("rmapi.create_order", errs.CodeInvalid,
			errs.WithMessage("currency is required"))
	}
	if spec.Amount.Sign() <= 0 {
		return Checkout{}, errs.New("rmapi.create_order", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"))
	}

	payload := map[string]any{
		"order": map[string]any{
			"id":             spec.Reference,
			"title":          spec.Title,
			"detail":         spec.Detail,
			"additionalData": "",
			"amount":         MinorUnits(spec.Amount),
			"currencyType":   spec.Currency,
		},
		"method":        []any{},
		"type":          "WEB_PAYMENT",
		"storeId":       c.storeID,
		"redirectUrl":   NormalizeURL(spec.RedirectURL),
		"notifyUrl":     NormalizeURL(spec.NotifyURL),
		"layoutVersion": "v3",
	}

	url := c.endpoints.URL(UsageAPI, "v3", "/payment/online")
	var out Checkout
	if err := c.call(ctx, "POST", url, payload, &out); err != nil {
		return Checkout{}, err
	}
	return out, nil
}

// QueryOrder fetches the provider status for the composite reference.
func (c *Client) QueryOrder(ctx context.Context, ref string) (OrderStatus, error) {
	if strings.TrimSpace(ref) == "" {
		return OrderStatus{}, errs.New("rmapi.query_order", errs.CodeInvalid,
			errs.WithMessage("transaction reference is required"))
	}
	url := c.endpoints.URL(UsageAPI, "v3", "/payment/transaction/order/"+ref)
	var out OrderStatus
	if err := c.call(ctx, "GET", url, nil, &out); err != nil {
		return OrderStatus{}, err
	}
	return out, nil
}
