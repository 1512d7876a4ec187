// Package dialogue runs turn-based conversations between two walkers.
// Speakers strictly alternate and every open session advances by at most one
// turn per tick.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/agents"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/narrative"
	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/state"
)

// Config holds dialogue policy.
type Config struct {
	MaxTurns       int      `yaml:"max_turns"`
	TurnRetries    int      `yaml:"turn_retries"`     // Ticks a failed turn is retried before falling back
	MaxFailedTurns int      `yaml:"max_failed_turns"` // Fallback turns tolerated before closing as failed
	Radius         float64  `yaml:"radius"`           // Overhear visibility
	FallbackLines  []string `yaml:"fallback_lines"`
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		MaxTurns:       8,
		TurnRetries:    1,
		MaxFailedTurns: 2,
		Radius:         8,
		FallbackLines: []string{
			"Mm.",
			"Hard to say.",
			"Let's keep walking.",
			"I suppose so.",
			"Long road ahead.",
		},
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("dialogue: max_turns must be at least 1")
	}
	if c.TurnRetries < 0 || c.MaxFailedTurns < 0 {
		return fmt.Errorf("dialogue: retry bounds must not be negative")
	}
	if len(c.FallbackLines) == 0 {
		return fmt.Errorf("dialogue: fallback_lines must not be empty")
	}
	return nil
}

// Manager owns dialogue sessions.
type Manager struct {
	cfg     Config
	builder *cognition.Builder
	client  *cognition.Client
	log     *slog.Logger

	pending map[string]*cognition.Call
}

// New creates a dialogue manager.
func New(cfg Config, b *cognition.Builder, client *cognition.Client, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		builder: b,
		client:  client,
		log:     log,
		pending: make(map[string]*cognition.Call),
	}
}

// Open starts a session. The first walker speaks first, from the next tick.
func (m *Manager) Open(st *state.Store, first, second agents.ID) (*state.Session, error) {
	s, err := st.OpenSession(first, second, m.cfg.Radius)
	if err != nil {
		return nil, err
	}
	for _, id := range s.Participants {
		a, _ := st.Agent(id)
		a.Activity = agents.ActivityTalking
	}
	st.Stage(narrative.KindDialogueOpened, []agents.ID{first, second}, map[string]string{"session": s.ID})
	return s, nil
}

// Step advances every open session by at most one turn and returns the
// sessions closed during this tick.
func (m *Manager) Step(ctx context.Context, st *state.Store) []*state.Session {
	var closed []*state.Session
	var calls []*cognition.Call

	for _, s := range st.OpenSessions() {
		if err := st.VerifySession(s); err != nil {
			m.forceClose(st, s, err)
			closed = append(closed, s)
			continue
		}
		if s.OpenedTick == st.Tick {
			continue
		}
		if call, ok := m.pending[s.ID]; ok {
			calls = append(calls, call)
			continue
		}
		payload, err := m.builder.ForDialogue(st, s)
		if err != nil {
			m.forceClose(st, s, err)
			closed = append(closed, s)
			continue
		}
		call := m.client.Dispatch(ctx, cognition.Request{
			Task:    payload.Task,
			Payload: payload,
			Ticket:  ticket(s),
		})
		m.pending[s.ID] = call
		calls = append(calls, call)
	}

	m.client.Await(ctx, calls...)

	for _, s := range st.OpenSessions() {
		call, ok := m.pending[s.ID]
		if !ok || !call.Done() {
			continue
		}
		delete(m.pending, s.ID)
		if err := Valid(s, call.Request.Ticket); err != nil {
			m.log.Debug("dialogue: discarding stale turn", "session", s.ID, "ticket", call.Request.Ticket.String())
			continue
		}
		if m.apply(st, s, call) {
			closed = append(closed, s)
		}
	}
	return closed
}

func ticket(s *state.Session) cognition.Ticket {
	return cognition.Ticket{Owner: s.ID, Subject: s.NextSpeaker(), Version: uint64(len(s.Turns))}
}

// Valid reports whether a turn produced for ticket t may still be appended.
func Valid(s *state.Session, t cognition.Ticket) error {
	if !s.Open || t.Owner != s.ID || t.Version != uint64(len(s.Turns)) || t.Subject != s.NextSpeaker() {
		return cognition.ErrStaleResult
	}
	return nil
}

// apply appends the call's turn or handles its failure. It reports whether
// the session closed.
func (m *Manager) apply(st *state.Store, s *state.Session, call *cognition.Call) bool {
	speaker := s.NextSpeaker()
	d, err := call.Result()
	if err == nil && strings.TrimSpace(d.Utterance) == "" {
		err = &cognition.Failure{Kind: cognition.ErrServiceError, Task: call.Request.Task, Err: errors.New("empty utterance")}
	}

	if err != nil {
		if errors.Is(err, cognition.ErrStaleResult) {
			return false
		}
		retryable := !errors.Is(err, cognition.ErrServiceUnavailable)
		if retryable && s.Retries < m.cfg.TurnRetries {
			s.Retries++
			m.log.Debug("dialogue: turn failed, retrying", "session", s.ID, "retry", s.Retries, "error", err)
			return false
		}
		s.Retries = 0
		s.FailedTurns++
		s.Turns = append(s.Turns, state.Turn{
			Speaker:   speaker,
			Utterance: m.cfg.FallbackLines[(len(s.Turns)+int(s.Seq))%len(m.cfg.FallbackLines)],
			Tick:      st.Tick,
			Fallback:  true,
		})
		if s.FailedTurns > m.cfg.MaxFailedTurns {
			m.close(st, s, state.ReasonFailed)
			return true
		}
	} else {
		s.Retries = 0
		s.Turns = append(s.Turns, state.Turn{
			Speaker:   speaker,
			Utterance: strings.TrimSpace(d.Utterance),
			Tick:      st.Tick,
			Sentiment: d.Sentiment,
		})
		if d.End && len(s.Turns) >= 2 {
			m.close(st, s, state.ReasonEnded)
			return true
		}
	}

	if len(s.Turns) >= m.cfg.MaxTurns {
		m.close(st, s, state.ReasonMaxTurns)
		return true
	}
	return false
}

// close ends a session, records its summary and queues the pair for
// re-scoring.
func (m *Manager) close(st *state.Store, s *state.Session, reason state.CloseReason) {
	st.CloseSession(s.ID, reason)
	m.release(st, s)

	outcome := 0.0
	for _, t := range s.Turns {
		outcome += t.Sentiment
	}
	if len(s.Turns) > 0 {
		outcome /= float64(len(s.Turns))
	}
	st.Touch(s.Pair(), state.Interaction{Kind: state.InteractionDialogue, Outcome: outcome, Ref: s.ID})

	payload := map[string]string{
		"session":   s.ID,
		"reason":    string(reason),
		"turns":     fmt.Sprintf("%d", len(s.Turns)),
		"sentiment": fmt.Sprintf("%.3f", outcome),
	}
	if len(s.Turns) > 0 {
		payload["opening"] = s.Turns[0].Utterance
		payload["closing"] = s.Turns[len(s.Turns)-1].Utterance
	}
	st.Stage(narrative.KindDialogueClosed, []agents.ID{s.Participants[0], s.Participants[1]}, payload)

	m.log.Debug("dialogue closed", "session", s.ID, "reason", reason, "turns", len(s.Turns))
}

// forceClose ends a session that failed a consistency check.
func (m *Manager) forceClose(st *state.Store, s *state.Session, err error) {
	m.log.Warn("dialogue: force-closing session", "session", s.ID, "error", err)
	if call, ok := m.pending[s.ID]; ok {
		call.Cancel()
		delete(m.pending, s.ID)
	}
	st.CloseSession(s.ID, state.ReasonInvariant)
	m.release(st, s)
	st.Diagnose(err, []agents.ID{s.Participants[0], s.Participants[1]}, s.ID)
}

func (m *Manager) release(st *state.Store, s *state.Session) {
	for _, id := range s.Participants {
		if a, ok := st.Agent(id); ok && a.Activity == agents.ActivityTalking {
			a.Activity = agents.ActivityIdle
		}
	}
}

// Pending returns the number of turns awaiting the reasoning service.
func (m *Manager) Pending() int {
	return len(m.pending)
}
