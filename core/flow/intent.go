package flow

import (
	"strings"

	"github.com/mukisa/paybot/core/session"
)

// Intent is the coarse classification of an inbound message.
type Intent string

const (
	// IntentMenu shows the services menu and resets any flow position.
	IntentMenu Intent = "menu"
	// IntentInfo answers contact/faq/about questions without touching state.
	IntentInfo Intent = "info"
	// IntentService starts a payment flow for a specific service.
	IntentService Intent = "service"
	// IntentContinue feeds the message to the step the session is waiting on.
	IntentContinue Intent = "continue"
	// IntentUnknown falls through to the services menu.
	IntentUnknown Intent = "unknown"
)

// InfoTopic discriminates the informational intents.
type InfoTopic string

const (
	TopicContact InfoTopic = "contact"
	TopicFAQ     InfoTopic = "faq"
	TopicAbout   InfoTopic = "about"
)

// Classification is the outcome of intent analysis for one message.
type Classification struct {
	Intent  Intent
	Service session.Service
	Topic   InfoTopic
}

// tokens splits a message into lowercase words so keyword checks do not fire
// on substrings of step input (an email containing "support" must not be
// routed as a contact request).
func tokens(text string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		out[tok] = true
	}
	return out
}

func hasAny(words map[string]bool, keys ...string) bool {
	for _, k := range keys {
		if words[k] {
			return true
		}
	}
	return false
}

// Classify maps free text to an intent. Explicit menu and info keywords win
// even mid-flow; otherwise an active flow claims the message as step input.
func Classify(text string, inFlow bool) Classification {
	words := tokens(text)

	switch {
	case hasAny(words, "menu", "services", "home"):
		return Classification{Intent: IntentMenu}
	case hasAny(words, "contact", "support"):
		return Classification{Intent: IntentInfo, Topic: TopicContact}
	case hasAny(words, "faq", "faqs", "question", "questions"):
		return Classification{Intent: IntentInfo, Topic: TopicFAQ}
	case hasAny(words, "about"):
		return Classification{Intent: IntentInfo, Topic: TopicAbout}
	}

	if inFlow {
		return Classification{Intent: IntentContinue}
	}

	if hasAny(words, "pay", "buy", "purchase") {
		switch {
		case hasAny(words, "tv", "television", "gotv", "dstv", "startimes"):
			return Classification{Intent: IntentService, Service: session.ServiceTV}
		case hasAny(words, "water", "nwsc"):
			return Classification{Intent: IntentService, Service: session.ServiceWater}
		case hasAny(words, "umeme", "yaka", "power", "electricity"):
			return Classification{Intent: IntentService, Service: session.ServiceUmeme}
		case hasAny(words, "prn", "ura", "tax", "taxes"):
			return Classification{Intent: IntentService, Service: session.ServicePRN}
		}
		return Classification{Intent: IntentMenu}
	}

	return Classification{Intent: IntentUnknown}
}
