package flow

import (
	"regexp"
	"strings"
)

// Format predicates shared by the state handlers. Each is pure so the same
// rule backs every branch that captures the field.
var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

	// Ugandan MSISDN: 256XXXXXXXXX, +256XXXXXXXXX or 0XXXXXXXXX.
	phoneRe = regexp.MustCompile(`^(?:256|\+256|0)?([17]\d{8}|[2-9]\d{8})$`)

	prnRe     = regexp.MustCompile(`^[A-Za-z0-9]{10,20}$`)
	accountRe = regexp.MustCompile(`^[A-Za-z0-9]{4,14}$`)
)

// ValidEmail reports whether the input is a plausible email address and
// returns its normalized (lowercased) form.
func ValidEmail(raw string) (string, bool) {
	email := strings.TrimSpace(raw)
	if !emailRe.MatchString(email) {
		return "", false
	}
	return strings.ToLower(email), true
}

// NormalizePhone validates a phone number and standardizes it to the
// 256XXXXXXXXX form.
func NormalizePhone(raw string) (string, bool) {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	m := phoneRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", false
	}
	return "256" + m[1], true
}

// ValidPRNFormat reports whether the input looks like a Payment Reference
// Number worth sending upstream.
func ValidPRNFormat(raw string) (string, bool) {
	prn := strings.TrimSpace(raw)
	if !prnRe.MatchString(prn) {
		return "", false
	}
	return strings.ToUpper(prn), true
}

// ValidAccountFormat reports whether the input looks like a service account
// or meter number worth verifying upstream.
func ValidAccountFormat(raw string) (string, bool) {
	number := strings.TrimSpace(raw)
	if !accountRe.MatchString(number) {
		return "", false
	}
	return strings.ToUpper(number), true
}
