package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/database"
	"github.com/mukisa/paybot/core/flow"
	"github.com/mukisa/paybot/core/payment"
	"github.com/mukisa/paybot/core/ura"
)

// referenceAdapter exposes the SOAP tax client through the flow's
// ReferenceService interface.
type referenceAdapter struct {
	client *ura.Client
}

func (a referenceAdapter) Lookup(ctx context.Context, prn string) (flow.ReferenceDetails, error) {
	det, err := a.client.GetPRNDetails(ctx, prn)
	if err != nil {
		return flow.ReferenceDetails{}, err
	}
	return flow.ReferenceDetails{
		Number:       det.PRN,
		Status:       referenceStatus(det.StatusCode),
		Amount:       det.Amount,
		Currency:     det.CurrencyCode,
		TaxpayerName: det.TaxpayerName,
		Description:  det.StatusDesc,
		ExpiryDate:   det.ExpiryDate,
	}, nil
}

func (a referenceAdapter) CompleteMobile(ctx context.Context, prn, phone string) (flow.CompletionResult, error) {
	res, err := a.client.CompleteTransaction(ctx, prn, phone)
	if err != nil {
		return flow.CompletionResult{}, err
	}
	return completionResult(res), nil
}

func referenceStatus(code string) flow.ReferenceStatus {
	switch code {
	case ura.StatusActive:
		return flow.ReferenceAvailable
	case ura.StatusPaid:
		return flow.ReferencePaid
	default:
		return flow.ReferenceInvalid
	}
}

func completionResult(res ura.CompleteResult) flow.CompletionResult {
	return flow.CompletionResult{
		Accepted:         res.Code == ura.CodeCompleted,
		InvalidReference: res.Code == ura.CodeInvalidPRN,
		Description:      res.Status,
	}
}

// linkAdapter exposes the gateway link service through the flow's
// PaymentLinker interface.
type linkAdapter struct {
	service *payment.Service
}

func (a linkAdapter) PaymentLink(ctx context.Context, req flow.LinkRequest) (string, error) {
	return a.service.GenerateLink(ctx, payment.LinkSpec{
		OrderID:   req.TransactionID,
		Service:   req.Service,
		Amount:    req.Amount,
		PayerName: req.PayerName,
		Email:     req.Email,
	})
}

// messageLogAdapter writes conversation traffic to Postgres.
type messageLogAdapter struct {
	store *database.Store
}

func (a messageLogAdapter) Record(ctx context.Context, rec flow.MessageRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	return a.store.InsertMessage(ctx, rec.Identity, rec.EventID, rec.Direction, rec.Body, at)
}

var errDispatchUnbound = errors.New("bootstrap: dispatcher not bound")

// queueRef defers the dispatcher binding so transports that both feed and are
// fed by the dispatcher can be constructed first.
type queueRef struct {
	mu sync.RWMutex
	q  interface {
		Enqueue(ctx context.Context, ev chat.Event) error
	}
}

func (r *queueRef) bind(q interface {
	Enqueue(ctx context.Context, ev chat.Event) error
}) {
	r.mu.Lock()
	r.q = q
	r.mu.Unlock()
}

func (r *queueRef) Enqueue(ctx context.Context, ev chat.Event) error {
	r.mu.RLock()
	q := r.q
	r.mu.RUnlock()
	if q == nil {
		return errDispatchUnbound
	}
	return q.Enqueue(ctx, ev)
}
