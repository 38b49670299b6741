package payment

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/ledger"
	"github.com/coachpo/rmpay/internal/observability"
)

// WebhookHandler resolves a single transaction synchronously when the
// provider calls back. Unlike the sweep, one failed query here is fatal to
// the webhook request; the sweep remains the safety net for transient
// failures.
type WebhookHandler struct {
	client     ProviderClient
	ledger     ledger.Ledger
	receiptURL func(orderID string) string
	log        observability.Logger
}

// NewWebhookHandler constructs the webhook handler. receiptURL maps an
// external order id to the receipt view the payer is redirected to.
func NewWebhookHandler(client ProviderClient, ldg ledger.Ledger, receiptURL func(orderID string) string) *WebhookHandler {
	if receiptURL == nil {
		receiptURL = func(string) string { return "/" }
	}
	return &WebhookHandler{
		client:     client,
		ledger:     ldg,
		receiptURL: receiptURL,
		log:        observability.Log(),
	}
}

// Resolve queries the provider once and commits the terminal transition for
// the reference. A transaction that already reached a terminal state is
// returned as-is without another query.
func (h *WebhookHandler) Resolve(ctx context.Context, ref string) (ledger.Status, error) {
	tx, err := h.ledger.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if tx.Status.Terminal() {
		return tx.Status, nil
	}

	status, queryErr := h.client.QueryOrder(ctx, ref)
	if queryErr == nil && strings.ToUpper(status.Status) == statusSuccess {
		tx.ProviderTransactionID = status.TransactionID
		tx.Method = status.Method
		if err := h.ledger.UpdateStatus(ctx, tx, ledger.StatusSucceeded); err != nil {
			return h.settleConflict(ctx, ref, err)
		}
		return ledger.StatusSucceeded, nil
	}

	if err := h.ledger.UpdateStatus(ctx, tx, ledger.StatusFailed); err != nil {
		return h.settleConflict(ctx, ref, err)
	}
	return ledger.StatusFailed, queryErr
}

// settleConflict re-reads the record when a terminal write won the race; any
// other ledger failure propagates.
func (h *WebhookHandler) settleConflict(ctx context.Context, ref string, updateErr error) (ledger.Status, error) {
	if !errs.HasCode(updateErr, errs.CodeConflict) {
		return "", updateErr
	}
	tx, err := h.ledger.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	return tx.Status, nil
}

// ServeHTTP handles the provider callback carrying an orderId reference.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ref := r.URL.Query().Get("orderId")

	orderID, _, err := ledger.ParseReference(ref)
	if err != nil {
		h.log.Error("webhook reference rejected",
			observability.F("request", requestID),
			observability.F("ref", ref))
		http.Error(w, "payment failed", http.StatusInternalServerError)
		return
	}

	status, err := h.Resolve(r.Context(), ref)
	if err != nil {
		h.log.Error("webhook resolution failed",
			observability.F("request", requestID),
			observability.F("ref", ref),
			observability.F("error", err))
	}
	if status != ledger.StatusSucceeded {
		http.Error(w, "payment failed", http.StatusInternalServerError)
		return
	}

	h.log.Info("webhook confirmed payment",
		observability.F("request", requestID),
		observability.F("ref", ref))
	http.Redirect(w, r, h.receiptURL(orderID), http.StatusFound)
}
