package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareLoop/CareLoop/internal/agents"
	"github.com/CareLoop/CareLoop/internal/models"
	"github.com/CareLoop/CareLoop/internal/store"
)

// DefaultSweepInterval is how often the background trend sweep runs.
const DefaultSweepInterval = 15 * time.Minute

// DefaultPatientTimeout bounds one patient's analysis so a stuck store call
// cannot stall the whole sweep.
const DefaultPatientTimeout = 30 * time.Second

// Sweeper periodically reruns trend analysis for every patient with PRO
// data, so deterioration is caught even when a patient stops answering.
type Sweeper struct {
	store          store.Store
	trends         *agents.TrendMonitoringAgent
	interval       time.Duration
	patientTimeout time.Duration
}

// NewSweeper creates a sweeper. A non-positive interval falls back to the
// default.
func NewSweeper(s store.Store, trends *agents.TrendMonitoringAgent, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: s, trends: trends, interval: interval, patientTimeout: DefaultPatientTimeout}
}

// Run sweeps on a ticker until ctx is cancelled. Intended to run in its own
// goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Debug("Sweeper Run started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Sweeper Run stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep analyzes every patient once. Per-patient failures are logged and do
// not block other patients.
func (s *Sweeper) Sweep(ctx context.Context) {
	patients, err := s.store.ListPatients()
	if err != nil {
		slog.Error("Sweeper failed to list patients", "error", err)
		return
	}

	for i := range patients {
		patient := patients[i]
		if ctx.Err() != nil {
			return
		}
		s.sweepPatient(ctx, &patient)
	}
}

// sweepPatient runs one patient's analysis in its own goroutine and abandons
// it once the timeout elapses, so a stalled store call cannot hold up the
// rest of the sweep. The abandoned goroutine finishes (or fails) on its own.
func (s *Sweeper) sweepPatient(ctx context.Context, patient *models.Patient) {
	pctx, cancel := context.WithTimeout(ctx, s.patientTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		history, err := s.store.ListPROResponsesByPatient(patient.ID)
		if err != nil {
			done <- fmt.Errorf("failed to load PRO history: %w", err)
			return
		}
		if len(history) == 0 {
			done <- nil
			return
		}
		_, err = s.trends.Analyze(pctx, patient, history)
		done <- err
	}()

	select {
	case <-pctx.Done():
		slog.Warn("Sweeper abandoned slow patient analysis", "patientID", patient.ID, "timeout", s.patientTimeout)
	case err := <-done:
		if err != nil {
			slog.Error("Sweeper analysis failed", "patientID", patient.ID, "error", err)
		}
	}
}
