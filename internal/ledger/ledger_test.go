package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/coachpo/rmpay/errs"
)

func TestParseReference(t *testing.T) {
	orderID, createdAt, err := ParseReference("123-1690000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if orderID != "123" {
		t.Fatalf("expected order id 123, got %q", orderID)
	}
	if createdAt.Unix() != 1690000000 {
		t.Fatalf("expected timestamp 1690000000, got %d", createdAt.Unix())
	}
}

func TestParseReferenceRejectsMalformedInput(t *testing.T) {
	for _, ref := range []string{"abc", "a-b-c", "", "-1690000000", "123-", "123-later"} {
		if _, _, err := ParseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

func TestReferenceRoundTrip(t *testing.T) {
	created := time.Unix(1690000000, 0)
	ref := NewReference("order-9", created)
	// The order id itself may not contain '-', so a hyphenated id must fail
	// the two-segment invariant rather than silently mis-parse.
	if _, _, err := ParseReference(ref); err == nil {
		t.Fatalf("hyphenated order id must be rejected: %q", ref)
	}

	ref = NewReference("9", created)
	orderID, parsed, err := ParseReference(ref)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if orderID != "9" || !parsed.Equal(created) {
		t.Fatalf("round trip mismatch: %q %v", orderID, parsed)
	}
}

func TestMemoryUpdateStatusGuardsTerminalStates(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	tx := Transaction{
		ID:              "9-1690000000",
		ExternalOrderID: "9",
		Amount:          1999,
		Currency:        "MYR",
		CreatedAt:       time.Unix(1690000000, 0),
		Status:          StatusPending,
	}
	if err := mem.Save(ctx, tx); err != nil {
		t.Fatalf("save: %v", err)
	}

	tx.ProviderTransactionID = "T1"
	tx.Method = "TNG_EWALLET"
	if err := mem.UpdateStatus(ctx, tx, StatusSucceeded); err != nil {
		t.Fatalf("transition to succeeded: %v", err)
	}

	stored, err := mem.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusSucceeded || stored.ProviderTransactionID != "T1" || stored.Method != "TNG_EWALLET" {
		t.Fatalf("unexpected stored record: %+v", stored)
	}

	if err := mem.UpdateStatus(ctx, tx, StatusFailed); !errs.HasCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict on terminal overwrite, got %v", err)
	}
	if err := mem.Save(ctx, Transaction{ID: tx.ID, Status: StatusPending}); !errs.HasCode(err, errs.CodeConflict) {
		t.Fatalf("expected conflict on terminal save, got %v", err)
	}
}

func TestMemoryPendingSelectionExcludesTerminal(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	base := time.Unix(1690000000, 0)
	for i, status := range []Status{StatusPending, StatusSucceeded, StatusFailed, StatusPending} {
		tx := Transaction{
			ID:        NewReference(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Status:    status,
		}
		if err := mem.Save(ctx, tx); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	pending, err := mem.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(pending))
	}
	if !pending[0].CreatedAt.Before(pending[1].CreatedAt) {
		t.Fatalf("pending records must be ordered by creation time")
	}
}

func TestMemoryGetUnknownReference(t *testing.T) {
	mem := NewMemory()
	if _, err := mem.Get(context.Background(), "missing-1"); !errs.HasCode(err, errs.CodeNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestTerminalStatus(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
	if !StatusSucceeded.Terminal() || !StatusFailed.Terminal() {
		t.Fatalf("succeeded and failed must be terminal")
	}
}
