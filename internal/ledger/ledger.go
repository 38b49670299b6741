// Package ledger defines the boundary to the external order ledger that owns
// payment transaction records.
package ledger

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/coachpo/rmpay/errs"
)

// Status enumerates the lifecycle states of a tracked transaction.
type Status string

const (
	// StatusPending marks a transaction awaiting provider confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded marks a confirmed payment. Terminal.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a failed or timeout-cancelled payment. Terminal.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Transaction is the ledger-owned snapshot of one payment attempt. ID is the
// composite provider reference {externalOrderID}-{creationUnixTimestamp}.
type Transaction struct {
	ID                    string
	ExternalOrderID       string
	ProviderTransactionID string
	Amount                int64
	Currency              string
	Method                string
	CreatedAt             time.Time
	Status                Status
}

// Ledger is the external order-ledger collaborator. UpdateStatus must commit
// a terminal transition only while the stored record is still pending, so a
// stale determination can never clobber a terminal write.
type Ledger interface {
	PendingTransactions(ctx context.Context) ([]Transaction, error)
	Get(ctx context.Context, ref string) (Transaction, error)
	UpdateStatus(ctx context.Context, tx Transaction, status Status) error
	Save(ctx context.Context, tx Transaction) error
}

// NewReference builds the composite provider reference for an order. The
// embedded timestamp doubles as the creation-time store for auto-cancel.
func NewReference(externalOrderID string, createdAt time.Time) string {
	return externalOrderID + "-" + strconv.FormatInt(createdAt.Unix(), 10)
}

// ParseReference splits a composite reference into its order id and creation
// time. Exactly two '-'-delimited segments are required; anything else marks
// the reference as unparseable.
func ParseReference(ref string) (externalOrderID string, createdAt time.Time, err error) {
	parts := strings.Split(ref, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", time.Time{}, errs.New("ledger.parse_reference", errs.CodeInvalid,
			errs.WithMessage("reference must be {orderId}-{timestamp}"),
			errs.WithRawMessage(ref))
	}
	unix, convErr := strconv.ParseInt(parts[1], 10, 64)
	if convErr != nil {
		return "", time.Time{}, errs.New("ledger.parse_reference", errs.CodeInvalid,
			errs.WithMessage("reference timestamp is not numeric"),
			errs.WithRawMessage(ref), errs.WithCause(convErr))
	}
	return parts[0], time.Unix(unix, 0), nil
}
