// Package flow interprets inbound chat events against the per-identity
// session state machine and produces the outbound replies of the payment
// conversation.
package flow

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/logger"
	"github.com/mukisa/paybot/core/session"
)

// Messenger delivers outbound text to a conversational counterpart.
type Messenger interface {
	SendText(ctx context.Context, identity, text string) error
}

// AccountVerifier checks a service account number against the billing
// upstream. A false return means the account does not exist; an error means
// the upstream could not answer.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, service session.Service, number string) (bool, error)
}

// ReferenceStatus is the upstream disposition of a Payment Reference Number.
type ReferenceStatus string

const (
	ReferenceAvailable ReferenceStatus = "available"
	ReferencePaid      ReferenceStatus = "paid"
	ReferenceInvalid   ReferenceStatus = "invalid"
)

// ReferenceDetails is the result of a PRN lookup.
type ReferenceDetails struct {
	Number       string
	Status       ReferenceStatus
	Amount       string
	Currency     string
	TaxpayerName string
	Description  string
	ExpiryDate   string
}

// CompletionResult is the upstream answer to a mobile-money PRN payment.
type CompletionResult struct {
	Accepted         bool
	InvalidReference bool
	Description      string
}

// ReferenceService talks to the tax authority about PRNs.
type ReferenceService interface {
	Lookup(ctx context.Context, prn string) (ReferenceDetails, error)
	CompleteMobile(ctx context.Context, prn, phone string) (CompletionResult, error)
}

// LinkRequest carries what the gateway needs to mint a card payment link.
type LinkRequest struct {
	TransactionID string
	Service       session.Service
	Amount        string
	PayerName     string
	Email         string
}

// PaymentLinker mints secure card payment links.
type PaymentLinker interface {
	PaymentLink(ctx context.Context, req LinkRequest) (string, error)
}

// Message directions recorded by the MessageLog.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// MessageRecord is one logged conversation message.
type MessageRecord struct {
	Identity  string
	EventID   string
	Direction string
	Body      string
	At        time.Time
}

// MessageLog persists conversation traffic. Recording is best effort: a
// failing log never blocks a reply.
type MessageLog interface {
	Record(ctx context.Context, rec MessageRecord) error
}

// Config wires the engine to its collaborators.
type Config struct {
	Messenger  Messenger
	Verifier   AccountVerifier
	References ReferenceService
	Links      PaymentLinker
	Messages   MessageLog

	DefaultAmount string
	Currency      string
}

type stepFn func(ctx context.Context, s *session.Session, text string) (string, error)

// Engine drives the conversation. It mutates the session it is handed and
// sends replies through the configured Messenger; persistence of the session
// is the caller's job.
type Engine struct {
	cfg   Config
	steps map[session.StateID]stepFn
}

// NewEngine returns a ready engine. Messenger, Verifier, References and Links
// must be non-nil; Messages may be nil.
func NewEngine(cfg Config) *Engine {
	if cfg.DefaultAmount == "" {
		cfg.DefaultAmount = "500.00"
	}
	if cfg.Currency == "" {
		cfg.Currency = "UGX"
	}
	e := &Engine{cfg: cfg}
	e.steps = map[session.StateID]stepFn{
		StateValidateTVNumber:      e.accountStep(serviceSpecs[session.ServiceTV]),
		StateValidateWaterNumber:   e.accountStep(serviceSpecs[session.ServiceWater]),
		StateValidateMeterNumber:   e.accountStep(serviceSpecs[session.ServiceUmeme]),
		StateValidatePRN:           e.prnStep,
		StateRequestPaymentMethod:  e.confirmStep,
		StateValidatePaymentMethod: e.methodStep,
		StateValidateEmail:         e.emailStep,
		StateValidatePhoneNumber:   e.phoneStep,
	}
	return e
}

// Process handles one inbound event against the given session. The session
// is mutated in place; the returned error means the reply could not be
// delivered and the event is worth retrying.
func (e *Engine) Process(ctx context.Context, s *session.Session, ev chat.Event) error {
	text := ev.Text
	if ev.Kind == chat.KindButtonReply && ev.ButtonID != "" {
		text = ev.ButtonID
	}
	e.record(ctx, s.Identity, ev.ID, DirectionIn, text)

	if ev.Kind == chat.KindFormReply {
		return e.send(ctx, s.Identity, formReplySummary(ev.FormFields))
	}

	if res := InterceptCommand(s, text); res.Handled {
		logger.Info(ctx, "flow", "flow.command",
			slog.String("command", res.Command),
			slog.String("state", string(s.State.FlowNextState)),
		)
		return e.send(ctx, s.Identity, res.Reply)
	}

	cls := Classify(text, s.InFlow())
	logger.Debug(ctx, "flow", "flow.intent",
		slog.String("intent", string(cls.Intent)),
		slog.String("service", string(cls.Service)),
		slog.String("state", string(s.State.FlowNextState)),
	)

	var (
		reply string
		err   error
	)
	switch cls.Intent {
	case IntentMenu:
		s.ResetState()
		reply = servicesMenu(s)
	case IntentInfo:
		reply = infoMessage(cls.Topic)
	case IntentService:
		reply = e.startService(s, cls.Service)
	case IntentContinue:
		step, ok := e.steps[s.State.FlowNextState]
		if !ok {
			// Unknown step in a persisted session, likely from an older
			// build. Start fresh rather than wedge the conversation.
			logger.Warn(ctx, "flow", "flow.state.unknown",
				slog.String("state", string(s.State.FlowNextState)),
			)
			s.ResetState()
			reply = servicesMenu(s)
			break
		}
		reply, err = step(ctx, s, text)
		if err != nil {
			return err
		}
	default:
		reply = servicesMenu(s)
	}

	return e.send(ctx, s.Identity, reply)
}

func (e *Engine) startService(s *session.Session, svc session.Service) string {
	spec, ok := serviceSpecs[svc]
	if !ok {
		return servicesMenu(s)
	}
	s.ResetState()
	s.State.CurrentService = svc
	s.State.FlowNextState = spec.entry
	return servicePrompt(spec)
}

// rejectInput burns one attempt for the field and either re-prompts or, at
// the ceiling, ends the session.
func rejectInput(s *session.Session, field session.AttemptField, noun string) string {
	if s.AttemptIncr(field) >= session.MaxAttempts {
		s.ResetState()
		return attemptsExhausted(s)
	}
	return invalidInput(noun, session.MaxAttempts-s.Attempts[field])
}

func (e *Engine) accountStep(spec serviceSpec) stepFn {
	return func(ctx context.Context, s *session.Session, text string) (string, error) {
		number, ok := ValidAccountFormat(text)
		if !ok {
			return rejectInput(s, spec.field, spec.noun), nil
		}
		verified, err := e.cfg.Verifier.VerifyAccount(ctx, spec.service, number)
		if err != nil {
			logger.Warn(ctx, "flow", "flow.verify.unavailable",
				slog.String("service", string(spec.service)),
				slog.Any("err", err),
			)
			return msgGenericRetry, nil
		}
		if !verified {
			return rejectInput(s, spec.field, spec.noun), nil
		}
		s.AttemptReset(spec.field)
		s.MarkCompleted(spec.entry)
		s.State.FlowNextState = StateRequestPaymentMethod
		if s.State.PendingAmount == "" {
			s.State.PendingAmount = e.cfg.DefaultAmount
		}
		return accountConfirmed(spec, number, s.State.PendingAmount, e.cfg.Currency), nil
	}
}

func (e *Engine) prnStep(ctx context.Context, s *session.Session, text string) (string, error) {
	spec := serviceSpecs[session.ServicePRN]
	prn, ok := ValidPRNFormat(text)
	if !ok {
		return rejectInput(s, spec.field, spec.noun), nil
	}
	det, err := e.cfg.References.Lookup(ctx, prn)
	if err != nil {
		logger.Warn(ctx, "flow", "flow.prn.lookup.unavailable",
			slog.String("prn", prn),
			slog.Any("err", err),
		)
		return msgGenericRetry, nil
	}
	switch det.Status {
	case ReferencePaid:
		s.ResetState()
		return prnAlreadyPaid(prn), nil
	case ReferenceAvailable:
		rec := session.PRNRecord{Number: prn, Amount: det.Amount, Description: det.Description}
		if rec.Description == "" {
			rec.Description = det.TaxpayerName
		}
		s.AddPRN(rec)
		s.State.PendingAmount = det.Amount
		s.AttemptReset(spec.field)
		s.MarkCompleted(StateValidatePRN)
		s.State.FlowNextState = StateRequestPaymentMethod
		currency := det.Currency
		if currency == "" {
			currency = e.cfg.Currency
		}
		return prnConfirmed(rec, currency), nil
	default:
		return rejectInput(s, spec.field, spec.noun), nil
	}
}

func (e *Engine) confirmStep(_ context.Context, s *session.Session, text string) (string, error) {
	switch normalizeCommand(text) {
	case "confirm", "proceed", "yes", "ok", "okay":
		s.MarkCompleted(StateRequestPaymentMethod)
		s.State.FlowNextState = StateValidatePaymentMethod
		return msgPaymentMethodMenu, nil
	}
	return msgConfirmNudge, nil
}

func (e *Engine) methodStep(_ context.Context, s *session.Session, text string) (string, error) {
	var method session.Method
	switch normalizeCommand(text) {
	case "card", "1", "visa", "mastercard":
		method = session.MethodCard
	case "mobile", "2", "mobile money", "momo":
		method = session.MethodMobile
	default:
		return rejectInput(s, session.FieldPaymentMethod, "payment method"), nil
	}
	s.State.PaymentMethod = method
	s.AttemptReset(session.FieldPaymentMethod)
	s.MarkCompleted(StateValidatePaymentMethod)
	if method == session.MethodCard {
		s.State.FlowNextState = StateValidateEmail
	} else {
		s.State.FlowNextState = StateValidatePhoneNumber
	}
	return methodConfirmed(method), nil
}

func (e *Engine) emailStep(ctx context.Context, s *session.Session, text string) (string, error) {
	email, ok := ValidEmail(text)
	if !ok {
		return rejectInput(s, session.FieldEmail, "email address"), nil
	}

	amount := s.State.PendingAmount
	if amount == "" {
		amount = e.cfg.DefaultAmount
	}
	txn := session.NewTransactionID()
	link, err := e.cfg.Links.PaymentLink(ctx, LinkRequest{
		TransactionID: txn,
		Service:       s.State.CurrentService,
		Amount:        amount,
		PayerName:     s.DisplayName,
		Email:         email,
	})
	if err != nil {
		logger.Warn(ctx, "flow", "flow.link.unavailable",
			slog.Any("err", err),
		)
		return msgGenericRetry, nil
	}

	s.State.Contact = email
	d := s.SetPaymentDetails(session.PaymentDetails{
		Amount:        amount,
		ServiceType:   s.State.CurrentService,
		PayerName:     s.DisplayName,
		PayerContact:  email,
		TransactionID: txn,
	})
	s.AttemptReset(session.FieldEmail)
	s.MarkCompleted(StateValidateEmail)
	s.State.FlowNextState = ""
	s.State.OverallProgress = 100
	logger.Info(ctx, "flow", "flow.payment.link",
		slog.String("service", string(d.ServiceType)),
		slog.String("order_id", d.TransactionID),
	)
	return paymentLinkMessage(link, d, e.cfg.Currency), nil
}

func (e *Engine) phoneStep(ctx context.Context, s *session.Session, text string) (string, error) {
	phone, ok := NormalizePhone(text)
	if !ok {
		return rejectInput(s, session.FieldPhoneNumber, "phone number"), nil
	}

	if s.State.CurrentService == session.ServicePRN {
		return e.completePRN(ctx, s, phone)
	}

	amount := s.State.PendingAmount
	if amount == "" {
		amount = e.cfg.DefaultAmount
	}
	s.State.Contact = phone
	d := s.SetPaymentDetails(session.PaymentDetails{
		Amount:       amount,
		ServiceType:  s.State.CurrentService,
		PayerName:    s.DisplayName,
		PayerContact: phone,
	})
	s.AttemptReset(session.FieldPhoneNumber)
	s.MarkCompleted(StateValidatePhoneNumber)
	s.State.FlowNextState = ""
	s.State.OverallProgress = 100
	logger.Info(ctx, "flow", "flow.payment.mobile",
		slog.String("service", string(d.ServiceType)),
		slog.String("order_id", d.TransactionID),
	)
	return mobilePromptMessage(phone, amount, e.cfg.Currency), nil
}

func (e *Engine) completePRN(ctx context.Context, s *session.Session, phone string) (string, error) {
	rec, ok := s.LatestPRN()
	if !ok {
		// The flow reached phone capture without a looked-up PRN, which
		// only happens on corrupted state. Start fresh.
		logger.Warn(ctx, "flow", "flow.prn.missing")
		s.ResetState()
		return servicesMenu(s), nil
	}
	res, err := e.cfg.References.CompleteMobile(ctx, rec.Number, phone)
	if err != nil {
		logger.Warn(ctx, "flow", "flow.prn.complete.unavailable",
			slog.String("prn", rec.Number),
			slog.Any("err", err),
		)
		return msgGenericRetry, nil
	}
	if res.InvalidReference {
		s.ResetState()
		return prnInvalidOnComplete(rec.Number), nil
	}
	if !res.Accepted {
		logger.Warn(ctx, "flow", "flow.prn.complete.rejected",
			slog.String("prn", rec.Number),
			slog.String("payload", logger.Sanitize(res.Description)),
		)
		return msgGenericRetry, nil
	}

	amount := rec.Amount
	if amount == "" {
		amount = s.State.PendingAmount
	}
	s.State.Contact = phone
	d := s.SetPaymentDetails(session.PaymentDetails{
		Amount:       amount,
		ServiceType:  session.ServicePRN,
		PayerName:    s.DisplayName,
		PayerContact: phone,
	})
	s.AttemptReset(session.FieldPhoneNumber)
	s.MarkCompleted(StateValidatePhoneNumber)
	s.State.FlowNextState = ""
	s.State.OverallProgress = 100
	logger.Info(ctx, "flow", "flow.payment.prn",
		slog.String("prn", rec.Number),
		slog.String("order_id", d.TransactionID),
	)
	return prnCompletedMessage(rec.Number, phone), nil
}

func (e *Engine) send(ctx context.Context, identity, text string) error {
	if text == "" {
		return nil
	}
	if err := e.cfg.Messenger.SendText(ctx, identity, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	e.record(ctx, identity, "", DirectionOut, text)
	return nil
}

// record logs conversation traffic, swallowing failures.
func (e *Engine) record(ctx context.Context, identity, eventID, direction, body string) {
	if e.cfg.Messages == nil || body == "" {
		return
	}
	rec := MessageRecord{
		Identity:  identity,
		EventID:   eventID,
		Direction: direction,
		Body:      body,
		At:        time.Now(),
	}
	if err := e.cfg.Messages.Record(ctx, rec); err != nil {
		logger.Debug(ctx, "flow", "flow.msglog.failed",
			slog.String("direction", direction),
			slog.Any("err", err),
		)
	}
}
