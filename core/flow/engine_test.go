package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/session"
)

type fakeMessenger struct {
	sent []string
	err  error
}

func (f *fakeMessenger) SendText(_ context.Context, _ string, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeMessenger) last(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent, "expected a reply to have been sent")
	return f.sent[len(f.sent)-1]
}

type fakeVerifier struct {
	err error
}

func (f *fakeVerifier) VerifyAccount(_ context.Context, service session.Service, number string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	known := map[session.Service]string{
		session.ServiceTV:    "12345",
		session.ServiceWater: "67890",
		session.ServiceUmeme: "54321",
	}
	return known[service] == number, nil
}

type fakeRefs struct {
	lookupErr   error
	completeErr error
	complete    CompletionResult
}

func (f *fakeRefs) Lookup(_ context.Context, prn string) (ReferenceDetails, error) {
	if f.lookupErr != nil {
		return ReferenceDetails{}, f.lookupErr
	}
	switch prn {
	case "PRN1234567890":
		return ReferenceDetails{
			Number:      prn,
			Status:      ReferenceAvailable,
			Amount:      "150000",
			Currency:    "UGX",
			Description: "PAYE March",
		}, nil
	case "PRN0000000000":
		return ReferenceDetails{Number: prn, Status: ReferencePaid}, nil
	default:
		return ReferenceDetails{Number: prn, Status: ReferenceInvalid}, nil
	}
}

func (f *fakeRefs) CompleteMobile(_ context.Context, _, _ string) (CompletionResult, error) {
	if f.completeErr != nil {
		return CompletionResult{}, f.completeErr
	}
	return f.complete, nil
}

type fakeLinks struct {
	err error
}

func (f *fakeLinks) PaymentLink(_ context.Context, req LinkRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://pay.example.com/s/abc123?ref=" + req.TransactionID, nil
}

type testBot struct {
	engine *Engine
	msgr   *fakeMessenger
	verif  *fakeVerifier
	refs   *fakeRefs
	links  *fakeLinks
	sess   *session.Session
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	b := &testBot{
		msgr:  &fakeMessenger{},
		verif: &fakeVerifier{},
		refs:  &fakeRefs{complete: CompletionResult{Accepted: true}},
		links: &fakeLinks{},
		sess:  session.New("256700000001", "Ritah", 5*time.Minute, 10),
	}
	b.engine = NewEngine(Config{
		Messenger:     b.msgr,
		Verifier:      b.verif,
		References:    b.refs,
		Links:         b.links,
		DefaultAmount: "500.00",
		Currency:      "UGX",
	})
	return b
}

func (b *testBot) say(t *testing.T, text string) string {
	t.Helper()
	ev := chat.Event{
		ID:       "evt-" + text,
		Identity: b.sess.Identity,
		Kind:     chat.KindText,
		Text:     text,
	}
	require.NoError(t, b.engine.Process(context.Background(), b.sess, ev))
	return b.msgr.last(t)
}

func TestServiceStartPromptsForNumber(t *testing.T) {
	b := newTestBot(t)

	reply := b.say(t, "I want to pay tv")
	assert.Contains(t, reply, "TV number")
	assert.Equal(t, session.ServiceTV, b.sess.State.CurrentService)
	assert.Equal(t, StateValidateTVNumber, b.sess.State.FlowNextState)
}

func TestAttemptCeilingEndsSession(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")

	r1 := b.say(t, "99999")
	assert.Contains(t, r1, "2 attempts left")
	r2 := b.say(t, "99999")
	assert.Contains(t, r2, "1 attempt left")
	r3 := b.say(t, "99999")
	assert.Contains(t, r3, "exceeded the maximum number of attempts")

	assert.Empty(t, b.sess.State.CurrentService)
	assert.Empty(t, b.sess.State.FlowNextState)
	assert.Zero(t, b.sess.State.OverallProgress)
	assert.Zero(t, b.sess.Attempts[session.FieldTVNumber])
}

func TestTVMobileMoneyHappyPath(t *testing.T) {
	b := newTestBot(t)

	b.say(t, "pay tv")
	r := b.say(t, "12345")
	assert.Contains(t, r, "verified")
	assert.Equal(t, StateRequestPaymentMethod, b.sess.State.FlowNextState)

	r = b.say(t, "confirm")
	assert.Contains(t, r, "card")
	assert.Contains(t, r, "mobile")

	r = b.say(t, "mobile")
	assert.Contains(t, r, "phone number")
	assert.Equal(t, session.MethodMobile, b.sess.State.PaymentMethod)

	r = b.say(t, "0772123456")
	assert.Contains(t, r, "256772123456")
	assert.Equal(t, 100, b.sess.State.OverallProgress)
	assert.Empty(t, b.sess.State.FlowNextState)
	require.NotNil(t, b.sess.State.PaymentDetails)
	assert.Equal(t, "256772123456", b.sess.State.PaymentDetails.PayerContact)
	assert.Equal(t, session.ServiceTV, b.sess.State.PaymentDetails.ServiceType)
	assert.Equal(t, session.PaymentPending, b.sess.State.PaymentDetails.Status)
	assert.NotEmpty(t, b.sess.State.PaymentDetails.TransactionID)
}

func TestWaterCardPathSendsLink(t *testing.T) {
	b := newTestBot(t)

	b.say(t, "pay water")
	b.say(t, "67890")
	b.say(t, "confirm")
	r := b.say(t, "card")
	assert.Contains(t, r, "email")

	r = b.say(t, "ritah@example.com")
	assert.Contains(t, r, "https://pay.example.com/s/abc123")
	assert.Equal(t, 100, b.sess.State.OverallProgress)
	assert.Empty(t, b.sess.State.FlowNextState)
	require.NotNil(t, b.sess.State.PaymentDetails)
	assert.Equal(t, "ritah@example.com", b.sess.State.PaymentDetails.PayerContact)
	assert.Contains(t, r, b.sess.State.PaymentDetails.TransactionID)
}

func TestConfirmGateNudgesUntilConfirmed(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	b.say(t, "12345")

	r := b.say(t, "whatever")
	assert.Contains(t, r, "confirm")
	assert.Equal(t, StateRequestPaymentMethod, b.sess.State.FlowNextState)
}

func TestCancelMidFlowResetsWithAckOnly(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	before := len(b.msgr.sent)

	r := b.say(t, "cancel")
	assert.Equal(t, msgCancelAck, r)
	assert.Equal(t, before+1, len(b.msgr.sent))
	assert.False(t, b.sess.InFlow())
	assert.Empty(t, b.sess.State.CurrentService)
}

func TestHelpIsIdempotentMidFlow(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay umeme")
	snapshot := b.sess.State

	r1 := b.say(t, "help")
	assert.Contains(t, r1, "meter")
	r2 := b.say(t, "help")
	assert.Equal(t, r1, r2)

	assert.Equal(t, snapshot.FlowNextState, b.sess.State.FlowNextState)
	assert.Equal(t, snapshot.OverallProgress, b.sess.State.OverallProgress)
	assert.Equal(t, snapshot.CurrentService, b.sess.State.CurrentService)
}

func TestMenuPreemptsFlow(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")

	r := b.say(t, "menu")
	assert.Contains(t, r, "pay tv")
	assert.False(t, b.sess.InFlow())
}

func TestInfoDoesNotTouchFlow(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")

	r := b.say(t, "contact")
	assert.Contains(t, r, "support")
	assert.Equal(t, StateValidateTVNumber, b.sess.State.FlowNextState)
	assert.Equal(t, session.ServiceTV, b.sess.State.CurrentService)
}

func TestStartOverRequiresExplicitAnswer(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	b.say(t, "12345")

	r := b.say(t, "start over")
	assert.Contains(t, r, "yes")
	assert.Equal(t, StateConfirmStartOver, b.sess.State.FlowNextState)

	r = b.say(t, "maybe")
	assert.Equal(t, msgStartOverReprompt, r)
	r = b.say(t, "hmm")
	assert.Equal(t, msgStartOverReprompt, r)

	// Third non-answer resumes the interrupted step.
	r = b.say(t, "dunno")
	assert.Contains(t, r, "continuing")
	assert.Equal(t, StateRequestPaymentMethod, b.sess.State.FlowNextState)
}

func TestStartOverYesResets(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	b.say(t, "12345")

	b.say(t, "start over")
	r := b.say(t, "yes")
	assert.Contains(t, r, "started over")
	assert.False(t, b.sess.InFlow())
	assert.Empty(t, b.sess.State.CurrentService)
}

func TestStartOverNoResumes(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	b.say(t, "12345")

	b.say(t, "start over")
	r := b.say(t, "no")
	assert.Contains(t, r, "continuing")
	assert.Equal(t, StateRequestPaymentMethod, b.sess.State.FlowNextState)
	assert.Equal(t, session.ServiceTV, b.sess.State.CurrentService)
}

func TestChangeMethodBeforeChoiceGivesGuidance(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	snapshot := b.sess.State

	r := b.say(t, "change payment method")
	assert.Contains(t, r, "not chosen a payment method")
	assert.Equal(t, snapshot.FlowNextState, b.sess.State.FlowNextState)
}

func TestChangeMethodRewindsToChoice(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay water")
	b.say(t, "67890")
	b.say(t, "confirm")
	b.say(t, "card")
	require.Equal(t, StateValidateEmail, b.sess.State.FlowNextState)

	r := b.say(t, "change payment method")
	assert.Contains(t, r, "card")
	assert.Contains(t, r, "mobile")
	assert.Equal(t, StateValidatePaymentMethod, b.sess.State.FlowNextState)
	assert.Empty(t, b.sess.State.PaymentMethod)
	// The validated account survives the rewind.
	assert.Contains(t, b.sess.State.FlowCompletedStates, StateValidateWaterNumber)

	r = b.say(t, "mobile")
	assert.Contains(t, r, "phone number")
}

func TestVerifierOutageDoesNotBurnAttempts(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay tv")
	b.verif.err = errors.New("upstream timeout")

	r := b.say(t, "12345")
	assert.Equal(t, msgGenericRetry, r)
	assert.Equal(t, StateValidateTVNumber, b.sess.State.FlowNextState)
	assert.Zero(t, b.sess.Attempts[session.FieldTVNumber])

	b.verif.err = nil
	r = b.say(t, "12345")
	assert.Contains(t, r, "verified")
}

func TestPRNFlowCompletesOverMobile(t *testing.T) {
	b := newTestBot(t)

	b.say(t, "pay prn")
	r := b.say(t, "PRN1234567890")
	assert.Contains(t, r, "PRN1234567890")
	assert.Contains(t, r, "150000")

	b.say(t, "confirm")
	b.say(t, "mobile")
	r = b.say(t, "0772123456")
	assert.Contains(t, r, "PRN1234567890")
	assert.Contains(t, r, "256772123456")
	assert.Equal(t, 100, b.sess.State.OverallProgress)
	require.NotNil(t, b.sess.State.PaymentDetails)
	assert.Equal(t, "150000", b.sess.State.PaymentDetails.Amount)
}

func TestPRNAlreadyPaidEndsFlow(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay prn")

	r := b.say(t, "PRN0000000000")
	assert.Contains(t, r, "already been paid")
	assert.False(t, b.sess.InFlow())
}

func TestPRNInvalidAtCompletionEndsFlow(t *testing.T) {
	b := newTestBot(t)
	b.refs.complete = CompletionResult{InvalidReference: true}

	b.say(t, "pay prn")
	b.say(t, "PRN1234567890")
	b.say(t, "confirm")
	b.say(t, "mobile")
	r := b.say(t, "0772123456")
	assert.Contains(t, r, "rejected")
	assert.False(t, b.sess.InFlow())
	assert.Nil(t, b.sess.State.PaymentDetails)
}

func TestPRNLookupInvalidBurnsAttempt(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay prn")

	r := b.say(t, "PRN9999999999")
	assert.Contains(t, r, "2 attempts left")
	assert.Equal(t, StateValidatePRN, b.sess.State.FlowNextState)
}

func TestLinkOutageDoesNotMutateSession(t *testing.T) {
	b := newTestBot(t)
	b.say(t, "pay water")
	b.say(t, "67890")
	b.say(t, "confirm")
	b.say(t, "card")
	b.links.err = errors.New("gateway down")

	r := b.say(t, "ritah@example.com")
	assert.Equal(t, msgGenericRetry, r)
	assert.Equal(t, StateValidateEmail, b.sess.State.FlowNextState)
	assert.Nil(t, b.sess.State.PaymentDetails)

	b.links.err = nil
	r = b.say(t, "ritah@example.com")
	assert.Contains(t, r, "https://")
}

func TestMessengerFailureSurfacesForRetry(t *testing.T) {
	b := newTestBot(t)
	b.msgr.err = errors.New("channel unavailable")

	err := b.engine.Process(context.Background(), b.sess, chat.Event{
		ID:       "evt-1",
		Identity: b.sess.Identity,
		Kind:     chat.KindText,
		Text:     "menu",
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "send reply"))
}

func TestButtonReplyRoutesLikeText(t *testing.T) {
	b := newTestBot(t)
	ev := chat.Event{
		ID:       "evt-btn",
		Identity: b.sess.Identity,
		Kind:     chat.KindButtonReply,
		ButtonID: "pay tv",
	}
	require.NoError(t, b.engine.Process(context.Background(), b.sess, ev))
	assert.Equal(t, session.ServiceTV, b.sess.State.CurrentService)
}

func TestFormReplyAcknowledged(t *testing.T) {
	b := newTestBot(t)
	ev := chat.Event{
		ID:       "evt-form",
		Identity: b.sess.Identity,
		Kind:     chat.KindFormReply,
		FormFields: map[string]string{
			"service":      "tv",
			"phone_number": "0772123456",
		},
	}
	require.NoError(t, b.engine.Process(context.Background(), b.sess, ev))
	r := b.msgr.last(t)
	assert.Contains(t, r, "service: tv")
	assert.False(t, b.sess.InFlow())
}

func TestUnknownTextShowsMenu(t *testing.T) {
	b := newTestBot(t)
	r := b.say(t, "good morning")
	assert.Contains(t, r, "pay tv")
}
