package flow

import "github.com/mukisa/paybot/core/session"

// Flow step identifiers. The value stored in the session names the step that
// the NEXT inbound message will be interpreted by.
const (
	StateValidateTVNumber      session.StateID = "validateTvNumber"
	StateValidateWaterNumber   session.StateID = "validateWaterNumber"
	StateValidateMeterNumber   session.StateID = "validateMeterNumber"
	StateValidatePRN           session.StateID = "validatePrn"
	StateRequestPaymentMethod  session.StateID = "requestPaymentMethod"
	StateValidatePaymentMethod session.StateID = "validatePaymentMethod"
	StateValidateEmail         session.StateID = "validateEmail"
	StateValidatePhoneNumber   session.StateID = "validatePhoneNumber"
	StateConfirmStartOver      session.StateID = "confirmStartOver"
)

// FieldStartOver budgets the unrecognized replies tolerated while waiting for
// a start-over confirmation.
const FieldStartOver session.AttemptField = "startOver"

// serviceSpec binds a payable service to its entry step, its retry counter
// and its user-facing wording.
type serviceSpec struct {
	service session.Service
	entry   session.StateID
	field   session.AttemptField
	label   string
	noun    string
}

var serviceSpecs = map[session.Service]serviceSpec{
	session.ServiceTV: {
		service: session.ServiceTV,
		entry:   StateValidateTVNumber,
		field:   session.FieldTVNumber,
		label:   "TV subscription",
		noun:    "TV number",
	},
	session.ServiceWater: {
		service: session.ServiceWater,
		entry:   StateValidateWaterNumber,
		field:   session.FieldWaterNumber,
		label:   "water bill",
		noun:    "water account number",
	},
	session.ServiceUmeme: {
		service: session.ServiceUmeme,
		entry:   StateValidateMeterNumber,
		field:   session.FieldMeterNumber,
		label:   "UMEME/YAKA bill",
		noun:    "meter number",
	},
	session.ServicePRN: {
		service: session.ServicePRN,
		entry:   StateValidatePRN,
		field:   session.FieldPRN,
		label:   "URA tax payment",
		noun:    "Payment Reference Number (PRN)",
	},
}

// stepDescription names what the bot is waiting for at a given step, used by
// the help command and resume messages.
func stepDescription(id session.StateID) string {
	switch id {
	case StateValidateTVNumber:
		return "send your TV number"
	case StateValidateWaterNumber:
		return "send your water account number"
	case StateValidateMeterNumber:
		return "send your meter number"
	case StateValidatePRN:
		return "send your Payment Reference Number (PRN)"
	case StateRequestPaymentMethod:
		return "send 'confirm' to proceed to payment"
	case StateValidatePaymentMethod:
		return "choose a payment method (card or mobile)"
	case StateValidateEmail:
		return "send your email address"
	case StateValidatePhoneNumber:
		return "send your mobile money phone number"
	case StateConfirmStartOver:
		return "reply 'yes' or 'no' to confirm starting over"
	default:
		return "pick a service from the menu"
	}
}
