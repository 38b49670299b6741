package payment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/ledger"
	"github.com/coachpo/rmpay/internal/rmapi"
)

type fakeCheckout struct {
	spec rmapi.OrderSpec
	out  rmapi.Checkout
	err  error
}

func (f *fakeCheckout) CreateOrder(_ context.Context, spec rmapi.OrderSpec) (rmapi.Checkout, error) {
	f.spec = spec
	if f.err != nil {
		return rmapi.Checkout{}, f.err
	}
	return f.out, nil
}

func TestCheckoutStampsReferenceAndPersistsPending(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1690000000, 0)
	ldg := ledger.NewMemory()
	client := &fakeCheckout{out: rmapi.Checkout{CheckoutID: "ck-1", URL: "https://pay.example/ck-1"}}

	svc := NewService(client, ldg, "https://shop.example.my/return", "https://shop.example.my/notify",
		func() time.Time { return now })

	redirect, err := svc.Checkout(ctx, CheckoutRequest{
		OrderID:  "9",
		Detail:   "9",
		Amount:   decimal.RequireFromString("19.99"),
		Currency: "MYR",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if redirect != "https://pay.example/ck-1" {
		t.Fatalf("unexpected redirect %q", redirect)
	}

	wantRef := "9-1690000000"
	if client.spec.Reference != wantRef {
		t.Fatalf("composite reference mismatch: %q", client.spec.Reference)
	}
	if client.spec.Title != "Order 9" {
		t.Fatalf("default title expected, got %q", client.spec.Title)
	}
	if client.spec.RedirectURL != "https://shop.example.my/return" || client.spec.NotifyURL != "https://shop.example.my/notify" {
		t.Fatalf("callback urls not threaded: %+v", client.spec)
	}

	stored, err := ldg.Get(ctx, wantRef)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if stored.Status != ledger.StatusPending || stored.Amount != 1999 || stored.Currency != "MYR" {
		t.Fatalf("unexpected pending record: %+v", stored)
	}
	if !stored.CreatedAt.Equal(now) {
		t.Fatalf("creation time mismatch: %v", stored.CreatedAt)
	}
}

func TestCheckoutRejectsInvalidRequests(t *testing.T) {
	svc := NewService(&fakeCheckout{}, ledger.NewMemory(), "", "", nil)

	cases := []CheckoutRequest{
		{OrderID: "", Amount: decimal.NewFromInt(1), Currency: "MYR"},
		{OrderID: "9-1", Amount: decimal.NewFromInt(1), Currency: "MYR"},
		{OrderID: "9", Amount: decimal.Zero, Currency: "MYR"},
	}
	for i, req := range cases {
		if _, err := svc.Checkout(context.Background(), req); !errs.HasCode(err, errs.CodeInvalid) {
			t.Fatalf("case %d: expected invalid_request, got %v", i, err)
		}
	}
}

func TestCheckoutPropagatesCreateFailureButKeepsPendingRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1690000000, 0)
	ldg := ledger.NewMemory()
	client := &fakeCheckout{err: errs.New("rmapi.create_order", errs.CodeProvider, errs.WithRawCode("INVALID_STORE"))}

	svc := NewService(client, ldg, "", "", func() time.Time { return now })
	if _, err := svc.Checkout(ctx, CheckoutRequest{
		OrderID:  "9",
		Amount:   decimal.RequireFromString("5.00"),
		Currency: "MYR",
	}); !errs.HasCode(err, errs.CodeProvider) {
		t.Fatalf("creation failure must surface synchronously, got %v", err)
	}

	// The pending record remains for the sweep's auto-cancel policy to reap.
	stored, err := ldg.Get(ctx, "9-1690000000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != ledger.StatusPending {
		t.Fatalf("expected pending record, got %q", stored.Status)
	}
}
