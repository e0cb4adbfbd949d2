// Package notify delivers insight notifications: websocket fan-out for
// connected clinical dashboards and SMS escalation for findings that cannot
// wait for someone to be watching a dashboard.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Notifier escalates a high-severity finding to the on-call clinician.
type Notifier interface {
	NotifyCritical(ctx context.Context, patientID, description string) error
}

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	OnCall     string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithOnCall sets the on-call clinician's phone number.
func WithOnCall(number string) Option {
	return func(o *Opts) { o.OnCall = number }
}

// TwilioNotifier sends escalation SMS through the Twilio REST API.
type TwilioNotifier struct {
	client *twilio.RestClient
	from   string
	onCall string
}

// NewTwilioNotifier builds an SMS notifier. Options fall back to the
// TWILIO_* environment variables.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.OnCall == "" {
		cfg.OnCall = os.Getenv("TWILIO_ONCALL_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.OnCall == "" {
		return nil, fmt.Errorf("from and on-call numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{client: client, from: cfg.From, onCall: cfg.OnCall}, nil
}

// NotifyCritical sends an escalation SMS to the on-call number.
func (n *TwilioNotifier) NotifyCritical(ctx context.Context, patientID, description string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(n.onCall)
	params.SetFrom(n.from)
	params.SetBody(fmt.Sprintf("CareLoop alert for patient %s: %s", patientID, description))

	_, err := n.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioNotifier NotifyCritical failed", "patientID", patientID, "error", err)
		return fmt.Errorf("failed to send escalation SMS: %w", err)
	}
	slog.Debug("TwilioNotifier NotifyCritical sent", "patientID", patientID)
	return nil
}

// EscalationRecord captures one escalation sent through the mock notifier.
type EscalationRecord struct {
	PatientID   string
	Description string
}

// MockNotifier records escalations for tests and no-Twilio deployments.
type MockNotifier struct {
	mu          sync.Mutex
	Escalations []EscalationRecord
	Err         error
}

// NewMockNotifier creates an empty mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// NotifyCritical records the escalation.
func (m *MockNotifier) NotifyCritical(ctx context.Context, patientID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Escalations = append(m.Escalations, EscalationRecord{PatientID: patientID, Description: description})
	return nil
}

// Sent returns a copy of the recorded escalations.
func (m *MockNotifier) Sent() []EscalationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EscalationRecord, len(m.Escalations))
	copy(out, m.Escalations)
	return out
}
