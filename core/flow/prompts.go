package flow

import (
	"fmt"
	"strings"

	"github.com/mukisa/paybot/core/session"
)

// User-facing message builders. Wording stays in one place so the state
// handlers read as logic, not copy.

const (
	msgGenericRetry = "Sorry, something went wrong on our side. Please resend your last message to try again."

	msgCancelAck = "Okay, I have cancelled the current operation. Send 'menu' whenever you want to see the services."

	msgStartOverConfirm = "Are you sure you want to start over? Reply 'yes' to discard the current operation or 'no' to continue where you left off."

	msgStartOverReprompt = "Please reply 'yes' to start over or 'no' to continue with the current operation."

	msgConfirmNudge = "Please send 'confirm' to proceed with the payment, or 'cancel' to stop."

	msgPaymentMethodMenu = "How would you like to pay?\n\n1. Card - Visa or Mastercard\n2. Mobile - mobile money prompt\n\nReply with 'card' or 'mobile'."

	msgRequestEmail = "You have selected card payment. Please send your email address so we can share the payment link and receipt."

	msgRequestPhone = "You have selected mobile money. Please send the phone number to bill, e.g. 0772123456."
)

func greetingName(s *session.Session) string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return "there"
}

func servicesMenu(s *session.Session) string {
	return fmt.Sprintf(
		"Hello %s, welcome to the bill payments assistant. I can help you pay for:\n\n"+
			"1. TV subscription - send 'pay tv'\n"+
			"2. Water bill - send 'pay water'\n"+
			"3. UMEME/YAKA - send 'pay umeme'\n"+
			"4. URA taxes (PRN) - send 'pay prn'\n\n"+
			"Send 'help' at any time to see the available commands.",
		greetingName(s),
	)
}

func infoMessage(topic InfoTopic) string {
	switch topic {
	case TopicContact:
		return "You can reach our support team on +256 200 710 500 or write to support@paybot.ug. We respond 24/7."
	case TopicFAQ:
		return "Frequently asked questions:\n\n" +
			"- Which bills can I pay? TV, water, UMEME/YAKA and URA taxes.\n" +
			"- How do I pay? By card link or a mobile money prompt.\n" +
			"- Is there a charge? Standard network charges apply.\n\n" +
			"Send 'menu' to get started."
	default:
		return "I am an automated assistant for paying everyday bills: TV, water, electricity and URA taxes. Send 'menu' to see what I can do."
	}
}

func servicePrompt(spec serviceSpec) string {
	return fmt.Sprintf("You are paying for your %s. Please send your %s.", spec.label, spec.noun)
}

func invalidInput(noun string, left int) string {
	plural := "attempts"
	if left == 1 {
		plural = "attempt"
	}
	return fmt.Sprintf("The %s you sent is not valid. Please check and resend it. You have %d %s left.", noun, left, plural)
}

func attemptsExhausted(s *session.Session) string {
	return "You have exceeded the maximum number of attempts and your session has ended.\n\n" + servicesMenu(s)
}

func accountConfirmed(spec serviceSpec, number, amount, currency string) string {
	return fmt.Sprintf("Your %s %s has been verified. The amount due is %s %s.\n\n%s",
		spec.noun, number, currency, amount, msgConfirmNudge)
}

func prnConfirmed(rec session.PRNRecord, currency string) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "PRN %s is available for payment.\n", rec.Number)
	if rec.Description != "" {
		fmt.Fprintf(b, "Details: %s\n", rec.Description)
	}
	fmt.Fprintf(b, "Amount due: %s %s.\n\n%s", currency, rec.Amount, msgConfirmNudge)
	return b.String()
}

func prnAlreadyPaid(prn string) string {
	return fmt.Sprintf("PRN %s has already been paid. Send 'pay prn' to pay a different reference, or 'menu' for other services.", prn)
}

func methodConfirmed(m session.Method) string {
	if m == session.MethodCard {
		return msgRequestEmail
	}
	return msgRequestPhone
}

func paymentLinkMessage(link string, d *session.PaymentDetails, currency string) string {
	return fmt.Sprintf(
		"Here is your secure payment link for %s %s:\n\n%s\n\n"+
			"The link expires shortly, so complete the payment soon. Your reference is %s. A receipt will be sent to %s.",
		currency, d.Amount, link, d.TransactionID, d.PayerContact,
	)
}

func mobilePromptMessage(phone, amount, currency string) string {
	return fmt.Sprintf(
		"A mobile money prompt for %s %s has been sent to %s. Approve it with your PIN to complete the payment. Thank you.",
		currency, amount, phone,
	)
}

func prnCompletedMessage(prn, phone string) string {
	return fmt.Sprintf(
		"Your URA payment for PRN %s is being processed. Approve the mobile money prompt sent to %s to complete it. Thank you.",
		prn, phone,
	)
}

func prnInvalidOnComplete(prn string) string {
	return fmt.Sprintf("PRN %s was rejected by URA at payment time. Please confirm the reference and start again with 'pay prn'.", prn)
}

func changeMethodGuidance(s *session.Session) string {
	return fmt.Sprintf(
		"You have not chosen a payment method yet. Right now I need you to %s.",
		stepDescription(s.State.FlowNextState),
	)
}

func helpMessage(s *session.Session) string {
	b := &strings.Builder{}
	b.WriteString("Here is what I understand:\n\n")
	b.WriteString("- 'menu' shows the services\n")
	b.WriteString("- 'cancel' stops the current operation\n")
	b.WriteString("- 'start over' restarts the current operation\n")
	b.WriteString("- 'change payment method' picks a different way to pay\n")
	b.WriteString("- 'contact', 'faq' and 'about' answer common questions\n")
	if s.InFlow() {
		spec, ok := serviceSpecs[s.State.CurrentService]
		label := "your payment"
		if ok {
			label = "your " + spec.label
		}
		fmt.Fprintf(b, "\nYou are %d%% through %s. Next: %s.",
			s.State.OverallProgress, label, stepDescription(s.State.FlowNextState))
	} else {
		b.WriteString("\nNo operation is in progress. Send 'menu' to start one.")
	}
	return b.String()
}

func resumeMessage(s *session.Session) string {
	if !s.InFlow() {
		return "Okay, continuing. Send 'menu' to see the services."
	}
	return fmt.Sprintf("Okay, continuing where we left off. Next: %s.", stepDescription(s.State.FlowNextState))
}

func startedOverMessage(s *session.Session) string {
	return "Okay, we have started over.\n\n" + servicesMenu(s)
}

func formReplySummary(fields map[string]string) string {
	if len(fields) == 0 {
		return "Thanks, I received your form. Send 'menu' to continue."
	}
	b := &strings.Builder{}
	b.WriteString("Thanks, I received the following details:\n")
	for _, k := range []string{"service", "payment_method", "phone_number", "email"} {
		if v, ok := fields[k]; ok && v != "" {
			fmt.Fprintf(b, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), v)
		}
	}
	b.WriteString("\nSend 'menu' to continue.")
	return b.String()
}
