package flow

import (
	"strings"

	"github.com/mukisa/paybot/core/session"
)

// CommandResult is the outcome of control-command interception. When Handled
// is true the engine sends Reply and skips intent and state handling.
type CommandResult struct {
	Handled bool
	Reply   string
	Command string
}

func normalizeCommand(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// InterceptCommand checks a message against the control vocabulary before any
// intent or state handling. Command matching is exact on the normalized text,
// so step input that merely mentions a command word passes through.
func InterceptCommand(s *session.Session, text string) CommandResult {
	cmd := normalizeCommand(text)

	// A pending start-over confirmation claims every reply until resolved.
	if s.State.FlowNextState == StateConfirmStartOver {
		return resolveStartOver(s, cmd)
	}

	switch cmd {
	case "cancel", "stop", "exit", "quit":
		s.ResetState()
		return CommandResult{Handled: true, Reply: msgCancelAck, Command: "cancel"}

	case "start over", "startover", "restart", "reset":
		if !s.InFlow() {
			return CommandResult{Handled: true, Reply: "There is nothing in progress to start over. " + servicesMenu(s), Command: "startOver"}
		}
		s.Snapshot()
		s.State.FlowNextState = StateConfirmStartOver
		return CommandResult{Handled: true, Reply: msgStartOverConfirm, Command: "startOver"}

	case "change payment method", "change method", "change payment":
		return changePaymentMethod(s)

	case "help", "commands", "?":
		// Help is read-only: repeating it must not change the session.
		return CommandResult{Handled: true, Reply: helpMessage(s), Command: "help"}
	}

	return CommandResult{}
}

// resolveStartOver handles the yes/no answer to a start-over confirmation.
// Unrecognized replies are re-prompted a bounded number of times, after which
// the interrupted flow resumes.
func resolveStartOver(s *session.Session, cmd string) CommandResult {
	switch cmd {
	case "yes", "y", "yeah", "yep":
		s.Previous = nil
		s.ResetState()
		s.AttemptReset(FieldStartOver)
		return CommandResult{Handled: true, Reply: startedOverMessage(s), Command: "startOver"}

	case "no", "n", "nope":
		s.Restore()
		s.AttemptReset(FieldStartOver)
		return CommandResult{Handled: true, Reply: resumeMessage(s), Command: "startOver"}

	default:
		if s.AttemptIncr(FieldStartOver) >= session.MaxAttempts {
			s.Restore()
			s.AttemptReset(FieldStartOver)
			return CommandResult{Handled: true, Reply: resumeMessage(s), Command: "startOver"}
		}
		return CommandResult{Handled: true, Reply: msgStartOverReprompt, Command: "startOver"}
	}
}

// methodStageReached reports whether the flow has arrived at or passed the
// payment-method choice.
func methodStageReached(s *session.Session) bool {
	switch s.State.FlowNextState {
	case StateValidatePaymentMethod, StateValidateEmail, StateValidatePhoneNumber:
		return true
	}
	return s.State.PaymentMethod != ""
}

// changePaymentMethod rewinds a flow to the payment-method choice, dropping
// the chosen method and any captured contact. Earlier validated steps are
// kept, so the service number is not re-asked.
func changePaymentMethod(s *session.Session) CommandResult {
	if !s.InFlow() && s.State.PaymentMethod == "" {
		return CommandResult{Handled: true, Reply: "There is no payment in progress. " + servicesMenu(s), Command: "changeMethod"}
	}
	if !methodStageReached(s) {
		return CommandResult{Handled: true, Reply: changeMethodGuidance(s), Command: "changeMethod"}
	}

	s.State.PaymentMethod = ""
	s.State.Contact = ""
	kept := s.State.FlowCompletedStates[:0]
	for _, id := range s.State.FlowCompletedStates {
		switch id {
		case StateValidatePaymentMethod, StateValidateEmail, StateValidatePhoneNumber:
		default:
			kept = append(kept, id)
		}
	}
	s.State.FlowCompletedStates = kept
	s.State.FlowNextState = StateValidatePaymentMethod
	s.AttemptReset(session.FieldPaymentMethod)
	s.AttemptReset(session.FieldEmail)
	s.AttemptReset(session.FieldPhoneNumber)
	return CommandResult{Handled: true, Reply: msgPaymentMethodMenu, Command: "changeMethod"}
}
