package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"golang.org/x/text/language"
)

// Lifecycle is the state of the analysis lifecycle shown to the presentation layer
type Lifecycle string

const (
	Idle                 Lifecycle = "IDLE"
	AnalyzingImage       Lifecycle = "ANALYZING_IMAGE"
	AnalyzingText        Lifecycle = "ANALYZING_TEXT"
	ResultView           Lifecycle = "RESULT_VIEW"
	ProcessingCorrection Lifecycle = "PROCESSING_CORRECTION"
	Transcribing         Lifecycle = "TRANSCRIBING"
	Error                Lifecycle = "ERROR"
)

// Busy reports whether an operation is in flight.
func (l Lifecycle) Busy() bool {
	switch l {
	case AnalyzingImage, AnalyzingText, ProcessingCorrection, Transcribing:
		return true
	}
	return false
}

// Intent names a user action accepted by the machine.
type Intent string

const (
	IntentSubmitImage       Intent = "submit_image"
	IntentSubmitDescription Intent = "submit_description"
	IntentSubmitCorrection  Intent = "submit_correction"
	IntentSubmitVoice       Intent = "submit_voice_correction"
	IntentDismissError      Intent = "dismiss_error"
	IntentReset             Intent = "reset"
)

var (
	// ErrBusy is returned when an intent arrives while another operation is in flight.
	ErrBusy = errors.New("an operation is already in progress")
	// ErrDiscarded is returned to the caller whose operation finished after a reset.
	ErrDiscarded = errors.New("session was reset before the operation finished")
	// ErrEmptyCorrection is returned when a correction has no text and nothing is pending.
	ErrEmptyCorrection = errors.New("correction text is empty")
)

// TransitionError reports an intent that is not allowed from the current lifecycle.
type TransitionError struct {
	From   Lifecycle
	Intent Intent
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("intent %s is not allowed in state %s", e.Intent, e.From)
}

// State is the single mutable record of one analysis session.
type State struct {
	Lifecycle             Lifecycle               `json:"lifecycle"`
	CurrentResult         *models.AnalysisResult  `json:"currentResult,omitempty"`
	PendingCorrectionText string                  `json:"pendingCorrectionText"`
	LastError             *models.ErrorDescriptor `json:"lastError,omitempty"`
}

func (s State) clone() State {
	c := s
	c.CurrentResult = s.CurrentResult.Clone()
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return c
}

// Analyzer is the orchestrator surface the machine drives.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType string) (*models.AnalysisResult, error)
	AnalyzeText(ctx context.Context, description string) (*models.AnalysisResult, error)
	Recalculate(ctx context.Context, previous *models.AnalysisResult, correction string) (*models.AnalysisResult, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Machine owns a session's State. Every mutation goes through an intent method;
// while an operation is in flight the lifecycle is busy and new intents are rejected.
// The mutex only guards memory; admission is decided by the lifecycle.
type Machine struct {
	analyzer Analyzer

	mu         sync.Mutex
	lang       language.Tag
	state      State
	generation uint64
	listeners  []func(State)
}

// New returns a machine in IDLE
func New(analyzer Analyzer, lang language.Tag) *Machine {
	return &Machine{
		analyzer: analyzer,
		lang:     lang,
		state:    State{Lifecycle: Idle},
	}
}

// Snapshot returns a copy of the current state
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// SetLanguage changes the language used for user-facing error messages
func (m *Machine) SetLanguage(tag language.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lang = tag
}

// OnChange registers a listener called with a snapshot after every transition.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SubmitImage starts the analysis of a meal photo. IDLE -> ANALYZING_IMAGE -> RESULT_VIEW | ERROR.
func (m *Machine) SubmitImage(ctx context.Context, image []byte, mimeType string) (State, error) {
	gen, err := m.begin(IntentSubmitImage, AnalyzingImage, nil, Idle)
	if err != nil {
		return m.Snapshot(), err
	}
	result, err := m.analyzer.AnalyzeImage(ctx, image, mimeType)
	return m.finishAnalysis(gen, result, err)
}

// SubmitDescription starts the analysis of a typed description. IDLE -> ANALYZING_TEXT -> RESULT_VIEW | ERROR.
func (m *Machine) SubmitDescription(ctx context.Context, description string) (State, error) {
	gen, err := m.begin(IntentSubmitDescription, AnalyzingText, nil, Idle)
	if err != nil {
		return m.Snapshot(), err
	}
	result, err := m.analyzer.AnalyzeText(ctx, description)
	return m.finishAnalysis(gen, result, err)
}

func (m *Machine) finishAnalysis(gen uint64, result *models.AnalysisResult, opErr error) (State, error) {
	return m.finish(gen, func(s *State, lang language.Tag) {
		if opErr != nil {
			s.Lifecycle = Error
			s.CurrentResult = nil
			s.LastError = analysis.Describe(opErr, lang)
			return
		}
		s.Lifecycle = ResultView
		s.CurrentResult = result
		s.LastError = nil
	})
}

// SubmitCorrection recalculates the current result with a text correction.
// An empty text falls back to the pending (transcribed) correction.
// A failed correction keeps the previous result and only sets LastError.
func (m *Machine) SubmitCorrection(ctx context.Context, text string) (State, error) {
	var previous *models.AnalysisResult
	var correction string
	gen, err := m.begin(IntentSubmitCorrection, ProcessingCorrection, func(s *State) error {
		correction = strings.TrimSpace(text)
		if correction == "" {
			correction = strings.TrimSpace(s.PendingCorrectionText)
		}
		if correction == "" {
			return ErrEmptyCorrection
		}
		previous = s.CurrentResult.Clone()
		s.PendingCorrectionText = correction
		return nil
	}, ResultView)
	if err != nil {
		return m.Snapshot(), err
	}

	result, err := m.analyzer.Recalculate(ctx, previous, correction)
	return m.finish(gen, func(s *State, lang language.Tag) {
		s.Lifecycle = ResultView
		if err != nil {
			s.LastError = analysis.Describe(err, lang)
			return
		}
		s.CurrentResult = result
		s.PendingCorrectionText = ""
		s.LastError = nil
	})
}

// SubmitVoiceCorrection transcribes a recording into the pending correction text.
// It never recalculates on its own.
func (m *Machine) SubmitVoiceCorrection(ctx context.Context, audio []byte, mimeType string) (State, error) {
	gen, err := m.begin(IntentSubmitVoice, Transcribing, nil, ResultView)
	if err != nil {
		return m.Snapshot(), err
	}

	text, err := m.analyzer.Transcribe(ctx, audio, mimeType)
	return m.finish(gen, func(s *State, lang language.Tag) {
		s.Lifecycle = ResultView
		if err != nil {
			s.LastError = analysis.Describe(err, lang)
			return
		}
		s.PendingCorrectionText = text
		s.LastError = nil
	})
}

// DismissError clears a transient error banner in RESULT_VIEW.
func (m *Machine) DismissError() (State, error) {
	m.mu.Lock()
	if m.state.Lifecycle != ResultView {
		from := m.state.Lifecycle
		m.mu.Unlock()
		return m.Snapshot(), &TransitionError{From: from, Intent: IntentDismissError}
	}
	m.state.LastError = nil
	snap, listeners := m.state.clone(), m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

// Reset clears all session data and returns to IDLE. An operation still in
// flight is allowed to finish but its outcome is dropped.
func (m *Machine) Reset() State {
	m.mu.Lock()
	wasBusy := m.state.Lifecycle.Busy()
	m.generation++
	m.state = State{Lifecycle: Idle}
	snap, listeners := m.state.clone(), m.listenersLocked()
	m.mu.Unlock()

	if wasBusy {
		slog.Info("Session reset with an operation in flight, its outcome will be discarded")
	}
	notify(listeners, snap)
	return snap
}

// begin admits an intent: it checks the lifecycle, runs prepare under the lock
// and moves to the busy state. It returns the generation the outcome must match.
func (m *Machine) begin(intent Intent, busy Lifecycle, prepare func(*State) error, allowed ...Lifecycle) (uint64, error) {
	m.mu.Lock()
	if m.state.Lifecycle.Busy() {
		m.mu.Unlock()
		return 0, ErrBusy
	}
	ok := false
	for _, l := range allowed {
		if m.state.Lifecycle == l {
			ok = true
			break
		}
	}
	if !ok {
		from := m.state.Lifecycle
		m.mu.Unlock()
		return 0, &TransitionError{From: from, Intent: intent}
	}
	if prepare != nil {
		if err := prepare(&m.state); err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}

	slog.Debug("Session transition", "intent", intent, "from", m.state.Lifecycle, "to", busy)
	m.state.Lifecycle = busy
	gen := m.generation
	snap, listeners := m.state.clone(), m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return gen, nil
}

// finish applies an operation outcome unless the session moved on in the meantime.
func (m *Machine) finish(gen uint64, apply func(*State, language.Tag)) (State, error) {
	m.mu.Lock()
	if gen != m.generation {
		snap := m.state.clone()
		m.mu.Unlock()
		slog.Info("Discarding stale operation outcome")
		return snap, ErrDiscarded
	}
	from := m.state.Lifecycle
	apply(&m.state, m.lang)
	slog.Debug("Session transition", "from", from, "to", m.state.Lifecycle, "has_error", m.state.LastError != nil)
	snap, listeners := m.state.clone(), m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, snap)
	return snap, nil
}

func (m *Machine) listenersLocked() []func(State) {
	return append([](func(State))(nil), m.listeners...)
}

func notify(listeners []func(State), snap State) {
	for _, fn := range listeners {
		fn(snap.clone())
	}
}
