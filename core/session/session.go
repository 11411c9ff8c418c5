// Package session holds the per-identity conversation state for the payment
// flow and the stores that keep it alive across inbound events.
package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service identifies one of the payable bill services.
type Service string

const (
	// ServiceTV is a TV subscription payment (GOTV, DSTV and friends).
	ServiceTV Service = "tv"
	// ServiceWater is an NWSC water bill payment.
	ServiceWater Service = "water"
	// ServiceUmeme is a UMEME/YAKA electricity payment.
	ServiceUmeme Service = "umeme"
	// ServicePRN is a URA tax payment by Payment Reference Number.
	ServicePRN Service = "prn"
)

// StateID names a step of the conversation flow. The empty value means no
// payment step is in progress.
type StateID string

// Method is the chosen payment method.
type Method string

const (
	// MethodCard pays by Visa/Mastercard through a generated link.
	MethodCard Method = "card"
	// MethodMobile pays by mobile money prompt.
	MethodMobile Method = "mobile"
)

// PaymentStatus tracks the lifecycle of one payment attempt.
type PaymentStatus string

const (
	// PaymentPending is set when payment details are generated.
	PaymentPending PaymentStatus = "pending"
	// PaymentCompleted is set once the gateway confirms the payment.
	PaymentCompleted PaymentStatus = "completed"
	// PaymentFailed is set when the gateway rejects the payment.
	PaymentFailed PaymentStatus = "failed"
)

// AttemptField names a validated input with its own retry budget.
type AttemptField string

const (
	FieldTVNumber      AttemptField = "tvNumber"
	FieldPhoneNumber   AttemptField = "phoneNumber"
	FieldWaterNumber   AttemptField = "waterNumber"
	FieldMeterNumber   AttemptField = "meterNumber"
	FieldEmail         AttemptField = "email"
	FieldPRN           AttemptField = "prn"
	FieldPaymentMethod AttemptField = "paymentMethod"
)

// MaxAttempts is the hard ceiling of consecutive rejects per field before the
// session resets to idle.
const MaxAttempts = 3

// PaymentDetails describes one generated payment artifact.
type PaymentDetails struct {
	Amount        string        `json:"amount"`
	ServiceType   Service       `json:"service_type"`
	PayerName     string        `json:"payer_name"`
	PayerContact  string        `json:"payer_contact"`
	TransactionID string        `json:"transaction_id"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PRNRecord captures a looked-up Payment Reference Number for later
// completion over mobile money.
type PRNRecord struct {
	Number      string `json:"number"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// State is the mutable flow position of a session.
type State struct {
	CurrentService      Service          `json:"current_service,omitempty"`
	FlowNextState       StateID          `json:"flow_next_state,omitempty"`
	FlowCompletedStates []StateID        `json:"flow_completed_states,omitempty"`
	OverallProgress     int              `json:"overall_progress"`
	PaymentMethod       Method           `json:"payment_method,omitempty"`
	PaymentDetails      *PaymentDetails  `json:"payment_details,omitempty"`
	PaymentHistory      []PaymentDetails `json:"payment_history,omitempty"`
	Contact             string           `json:"contact,omitempty"`
	PendingAmount       string           `json:"pending_amount,omitempty"`
	PRNs                []PRNRecord      `json:"prns,omitempty"`
	LastUpdated         time.Time        `json:"last_updated"`
}

// Session is the conversation state for one identity. One session exists per
// identity; creating another for the same key replaces the first.
type Session struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`

	State    State                `json:"state"`
	Attempts map[AttemptField]int `json:"attempts"`

	// Previous holds a snapshot taken by control commands (cancel,
	// start-over) so an interrupted flow can be resumed.
	Previous *State `json:"previous,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	HistoryLimit int `json:"history_limit,omitempty"`
}

// New returns an idle session for the given identity.
func New(identity, displayName string, ttl time.Duration, historyLimit int) *Session {
	now := time.Now()
	return &Session{
		Identity:     identity,
		DisplayName:  displayName,
		Attempts:     make(map[AttemptField]int),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		HistoryLimit: historyLimit,
	}
}

// Expired reports whether the session TTL has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Touch slides the TTL forward; called on every processed event.
func (s *Session) Touch(ttl time.Duration) {
	s.ExpiresAt = time.Now().Add(ttl)
}

// InFlow reports whether a payment step is in progress.
func (s *Session) InFlow() bool {
	return s.State.FlowNextState != ""
}

// ResetState returns the session to idle. Payment history and attempts maps
// are retained; attempt counters are zeroed.
func (s *Session) ResetState() {
	s.State.CurrentService = ""
	s.State.FlowNextState = ""
	s.State.FlowCompletedStates = nil
	s.State.OverallProgress = 0
	s.State.PaymentMethod = ""
	s.State.Contact = ""
	s.State.PendingAmount = ""
	s.State.LastUpdated = time.Now()
	for k := range s.Attempts {
		s.Attempts[k] = 0
	}
}

// Snapshot stores a copy of the current state for later Restore.
func (s *Session) Snapshot() {
	cp := s.State
	cp.FlowCompletedStates = append([]StateID(nil), s.State.FlowCompletedStates...)
	s.Previous = &cp
}

// Restore brings back the snapshotted state, if any, and clears the snapshot.
func (s *Session) Restore() bool {
	if s.Previous == nil {
		return false
	}
	s.State = *s.Previous
	s.Previous = nil
	s.State.LastUpdated = time.Now()
	return true
}

// MarkCompleted appends a validated state and advances overall progress.
// Progress never regresses within one flow.
func (s *Session) MarkCompleted(id StateID) {
	s.State.FlowCompletedStates = append(s.State.FlowCompletedStates, id)
	progress := len(s.State.FlowCompletedStates) * 25
	if progress > 90 {
		progress = 90
	}
	if progress > s.State.OverallProgress {
		s.State.OverallProgress = progress
	}
	s.State.LastUpdated = time.Now()
}

// AttemptIncr bumps the retry counter for a field and returns the new value.
func (s *Session) AttemptIncr(field AttemptField) int {
	if s.Attempts == nil {
		s.Attempts = make(map[AttemptField]int)
	}
	s.Attempts[field]++
	return s.Attempts[field]
}

// AttemptReset zeroes the retry counter for a field.
func (s *Session) AttemptReset(field AttemptField) {
	if s.Attempts == nil {
		return
	}
	s.Attempts[field] = 0
}

// SetPaymentDetails installs a new payment artifact, moving any current one
// into the bounded history list.
func (s *Session) SetPaymentDetails(d PaymentDetails) *PaymentDetails {
	if d.TransactionID == "" {
		d.TransactionID = NewTransactionID()
	}
	if d.Status == "" {
		d.Status = PaymentPending
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	if s.State.PaymentDetails != nil {
		s.pushHistory(*s.State.PaymentDetails)
	}
	s.State.PaymentDetails = &d
	s.State.LastUpdated = time.Now()
	return s.State.PaymentDetails
}

// ClearPaymentDetails moves the current payment artifact into history.
func (s *Session) ClearPaymentDetails() {
	if s.State.PaymentDetails == nil {
		return
	}
	s.pushHistory(*s.State.PaymentDetails)
	s.State.PaymentDetails = nil
	s.State.LastUpdated = time.Now()
}

func (s *Session) pushHistory(d PaymentDetails) {
	s.State.PaymentHistory = append(s.State.PaymentHistory, d)
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = 10
	}
	if n := len(s.State.PaymentHistory); n > limit {
		s.State.PaymentHistory = s.State.PaymentHistory[n-limit:]
	}
}

// AddPRN records a looked-up PRN for the mobile-money completion step.
func (s *Session) AddPRN(r PRNRecord) {
	s.State.PRNs = append(s.State.PRNs, r)
	s.State.LastUpdated = time.Now()
}

// LatestPRN returns the most recently captured PRN, if any.
func (s *Session) LatestPRN() (PRNRecord, bool) {
	if len(s.State.PRNs) == 0 {
		return PRNRecord{}, false
	}
	return s.State.PRNs[len(s.State.PRNs)-1], true
}

// NewTransactionID returns a unique, roughly time-ordered transaction id.
func NewTransactionID() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper("TXN-" + ts + "-" + suffix)
}
