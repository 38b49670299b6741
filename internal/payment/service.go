// Package payment drives the order lifecycle: checkout creation, the
// reconciliation sweep and the provider webhook, all against the external
// order ledger.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/ledger"
	"github.com/coachpo/rmpay/internal/observability"
	"github.com/coachpo/rmpay/internal/rmapi"
)

// CheckoutClient creates payment orders with the provider.
type CheckoutClient interface {
	CreateOrder(ctx context.Context, spec rmapi.OrderSpec) (rmapi.Checkout, error)
}

// ProviderClient queries provider-side transaction state.
type ProviderClient interface {
	QueryOrder(ctx context.Context, ref string) (rmapi.OrderStatus, error)
}

// CheckoutRequest describes one storefront order entering payment.
type CheckoutRequest struct {
	OrderID  string
	Title    string
	Detail   string
	Amount   decimal.Decimal
	Currency string
}

// Service starts payments: it stamps the composite provider reference,
// records the pending transaction and registers the order with the provider.
type Service struct {
	client      CheckoutClient
	ledger      ledger.Ledger
	redirectURL string
	notifyURL   string
	clock       func() time.Time
	log         observability.Logger
}

// NewService constructs the checkout service. A nil clock uses time.Now.
func NewService(client CheckoutClient, ldg ledger.Ledger, redirectURL, notifyURL string, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		client:      client,
		ledger:      ldg,
		redirectURL: redirectURL,
		notifyURL:   notifyURL,
		clock:       clock,
		log:         observability.Log(),
	}
}

// Checkout begins payment for the order and returns the hosted checkout URL
// to redirect the payer to. Creation failures surface synchronously; the
// pending record stays behind for the sweep's auto-cancel policy to reap.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (string, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return "", errs.New("payment.checkout", errs.CodeInvalid,
			errs.WithMessage("order id is required"))
	}
	// The composite reference is '-'-delimited; an order id containing '-'
	// would make it unparseable.
	if strings.Contains(orderID, "-") {
		return "", errs.New("payment.checkout", errs.CodeInvalid,
			errs.WithMessage("order id must not contain '-'"))
	}
	if req.Amount.Sign() <= 0 {
		return "", errs.New("payment.checkout", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"))
	}

	now := s.clock()
	ref := ledger.NewReference(orderID, now)
	title := req.Title
	if title == "" {
		title = fmt.Sprintf("Order %s", orderID)
	}

	tx := ledger.Transaction{
		ID:              ref,
		ExternalOrderID: orderID,
		Amount:          rmapi.MinorUnits(req.Amount),
		Currency:        req.Currency,
		CreatedAt:       now,
		Status:          ledger.StatusPending,
	}
	if err := s.ledger.Save(ctx, tx); err != nil {
		return "", err
	}

	checkout, err := s.client.CreateOrder(ctx, rmapi.OrderSpec{
		Reference:   ref,
		OrderID:     orderID,
		Title:       title,
		Detail:      req.Detail,
		Amount:      req.Amount,
		Currency:    req.Currency,
		RedirectURL: s.redirectURL,
		NotifyURL:   s.notifyURL,
	})
	if err != nil {
		return "", err
	}

	s.log.Info("payment order created",
		observability.F("ref", ref),
		observability.F("order", orderID),
		observability.F("checkout", checkout.CheckoutID))
	return checkout.URL, nil
}
