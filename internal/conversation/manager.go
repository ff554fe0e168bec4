package conversation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/voice"
)

// ErrNoSession is returned when a command arrives with no active current
// session.
var ErrNoSession = errors.New("no active session")

// VoicePort voices a reply. Satisfied by *voice.Detector.
type VoicePort interface {
	Speak(text string) bool
}

// Responder generates a reply from a command and recent history. Failures
// are converted to a fixed apology, never propagated.
type Responder interface {
	Generate(ctx context.Context, command string, history []Message) (string, error)
}

// Listener observes session lifecycle and completed exchanges. Callbacks
// run on the goroutine driving the manager (the detector's processing loop
// for voice commands).
type Listener interface {
	OnSessionStarted(s Session)
	OnSessionEnded(s Session)
	OnExchange(s Session, user, assistant Message, took time.Duration, spoken bool)
}

// Options tunes the manager. Zero values fall back to the defaults noted.
type Options struct {
	SatelliteID    string        // source id sessions are keyed by, default "default"
	SessionTimeout time.Duration // idle expiry, default 5m
	MaxMessages    int           // history bound per session, default 50
	ContextWindow  int           // messages handed to the responder, default 10
	ResponderCtx   time.Duration // responder call budget, default 30s
}

func (o Options) withDefaults() Options {
	if o.SatelliteID == "" {
		o.SatelliteID = "default"
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = 5 * time.Minute
	}
	if o.MaxMessages <= 0 {
		o.MaxMessages = 50
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = 10
	}
	if o.ResponderCtx <= 0 {
		o.ResponderCtx = 30 * time.Second
	}
	return o
}

// Status is a snapshot of the registry for status queries.
type Status struct {
	ActiveSessionCount int     `json:"active_sessions"`
	CurrentSessionID   string  `json:"current_session,omitempty"`
	SessionTimeout     float64 `json:"session_timeout"`
}

// Manager maps detector events onto multi-turn sessions and produces
// responses. At most one session is current at a time; expired sessions are
// swept on lookups and on Stop, with an ended notification before removal.
type Manager struct {
	opts      Options
	voicePort VoicePort
	responder Responder

	mu        sync.Mutex
	sessions  map[string]*Session
	current   *Session
	listeners []Listener

	now  func() time.Time
	rand *rand.Rand
}

// NewManager builds a session manager. responder may be nil.
func NewManager(voicePort VoicePort, responder Responder, opts Options) *Manager {
	return &Manager{
		opts:      opts.withDefaults(),
		voicePort: voicePort,
		responder: responder,
		sessions:  make(map[string]*Session),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddListener registers a lifecycle listener. Register before traffic.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// OnWakeDetected resolves the current session for the configured satellite:
// an existing session inside the timeout window is reused, otherwise a new
// one is created.
func (m *Manager) OnWakeDetected() {
	m.mu.Lock()
	ended := m.sweepLocked()
	sess, started := m.getOrCreateLocked(m.opts.SatelliteID)
	sess.State = SessionListening
	sess.LastActivity = m.now()
	snapshot := sess.copy()
	listeners := m.listeners
	m.mu.Unlock()

	m.notifyEnded(listeners, ended)
	logging.Infow("conversation: session activated", logging.SessionFields(snapshot.ID, snapshot.SatelliteID)...)
	if started {
		for _, l := range listeners {
			l.OnSessionStarted(snapshot)
		}
	}
}

// OnCommandReceived appends the user turn, resolves a response (built-in
// intents, then the responder, then a clarification fallback), voices it
// blocking, and returns the session to idle whatever the speech outcome.
// Commands with no current session are logged and dropped.
func (m *Manager) OnCommandReceived(text string, confidence float64) {
	start := m.now()

	m.mu.Lock()
	sess := m.current
	if sess == nil {
		m.mu.Unlock()
		logging.Warnw("conversation: received command but no active session", "text", text)
		return
	}
	sess.State = SessionProcessing
	sess.LastActivity = start
	user := Message{Role: RoleUser, Content: text, Timestamp: start, Confidence: confidence}
	m.appendLocked(sess, user)
	history := m.recentLocked(sess)
	m.mu.Unlock()

	logging.Infow("conversation: command received",
		append(logging.SessionFields(sess.ID, sess.SatelliteID), "text", text, "confidence", confidence)...)

	response := m.resolveResponse(text, history)

	assistant := Message{Role: RoleAssistant, Content: response, Timestamp: m.now()}
	m.mu.Lock()
	m.appendLocked(sess, assistant)
	sess.State = SessionResponding
	m.mu.Unlock()

	spoken := false
	if m.voicePort != nil {
		spoken = m.voicePort.Speak(response)
		if !spoken {
			logging.Warnw("conversation: failed to speak response", logging.SessionFields(sess.ID, sess.SatelliteID)...)
		}
	}

	m.mu.Lock()
	sess.State = SessionIdle
	sess.LastActivity = m.now()
	snapshot := sess.copy()
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		l.OnExchange(snapshot, user, assistant, m.now().Sub(start), spoken)
	}
}

// OnStateChanged mirrors detector states onto the current session.
func (m *Manager) OnStateChanged(s voice.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	switch s {
	case voice.StateListening:
		m.current.State = SessionListening
	case voice.StateProcessing:
		m.current.State = SessionProcessing
	case voice.StateSpeaking:
		m.current.State = SessionResponding
	}
}

// SendCommand injects a text command as if it had been spoken. Fails when
// no session is current.
func (m *Manager) SendCommand(text string) error {
	m.mu.Lock()
	hasSession := m.current != nil
	m.mu.Unlock()
	if !hasSession {
		return ErrNoSession
	}
	m.OnCommandReceived(text, 1.0)
	return nil
}

// History returns an ordered snapshot of a session's messages. An empty id
// selects the current session. The second return distinguishes "not found"
// from an empty history.
func (m *Manager) History(sessionID string) ([]Message, bool) {
	m.mu.Lock()
	ended := m.sweepLocked()

	var sess *Session
	if sessionID != "" {
		sess = m.sessions[sessionID]
	} else {
		sess = m.current
	}
	var msgs []Message
	found := sess != nil
	if found {
		msgs = append([]Message(nil), sess.Messages...)
	}
	listeners := m.listeners
	m.mu.Unlock()

	m.notifyEnded(listeners, ended)
	return msgs, found
}

// CurrentSessionID returns the id of the current session, or "".
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// Status returns a registry snapshot, sweeping expired sessions first.
func (m *Manager) Status() Status {
	m.mu.Lock()
	ended := m.sweepLocked()
	st := Status{
		ActiveSessionCount: len(m.sessions),
		SessionTimeout:     m.opts.SessionTimeout.Seconds(),
	}
	if m.current != nil {
		st.CurrentSessionID = m.current.ID
	}
	listeners := m.listeners
	m.mu.Unlock()

	m.notifyEnded(listeners, ended)
	return st
}

// Stop sweeps expired sessions. Live sessions survive a stop so a later
// start can resume them inside the timeout window.
func (m *Manager) Stop() {
	m.mu.Lock()
	ended := m.sweepLocked()
	listeners := m.listeners
	m.mu.Unlock()
	m.notifyEnded(listeners, ended)
}

func (m *Manager) resolveResponse(command string, history []Message) string {
	if response, ok := builtinResponse(command, m.now()); ok {
		return response
	}
	if m.responder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.ResponderCtx)
		defer cancel()
		response, err := m.responder.Generate(ctx, command, history)
		if err != nil {
			logging.Errorw("conversation: responder failed", "err", err)
			return apologyResponse
		}
		if response != "" {
			return response
		}
	}
	return clarificationResponses[m.rand.Intn(len(clarificationResponses))]
}

// getOrCreateLocked reuses a live session for the satellite or creates a
// fresh one. Caller holds m.mu.
func (m *Manager) getOrCreateLocked(satelliteID string) (sess *Session, started bool) {
	now := m.now()
	for _, s := range m.sessions {
		if s.SatelliteID == satelliteID && now.Sub(s.LastActivity) < m.opts.SessionTimeout {
			m.current = s
			return s, false
		}
	}
	s := &Session{
		ID:           uuid.NewString(),
		SatelliteID:  satelliteID,
		StartedAt:    now,
		LastActivity: now,
		State:        SessionIdle,
	}
	m.sessions[s.ID] = s
	m.current = s
	logging.Infow("conversation: created new session", logging.SessionFields(s.ID, satelliteID)...)
	return s, true
}

// sweepLocked removes sessions idle past the timeout and clears the current
// pointer when it expires, returning snapshots of what was removed so the
// caller can notify listeners off-lock. Caller holds m.mu.
func (m *Manager) sweepLocked() []Session {
	now := m.now()
	var ended []Session
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.opts.SessionTimeout {
			ended = append(ended, s.copy())
			delete(m.sessions, id)
			if m.current != nil && m.current.ID == id {
				m.current = nil
			}
		}
	}
	return ended
}

func (m *Manager) notifyEnded(listeners []Listener, ended []Session) {
	for _, s := range ended {
		logging.Infow("conversation: session expired", logging.SessionFields(s.ID, s.SatelliteID)...)
		for _, l := range listeners {
			l.OnSessionEnded(s)
		}
	}
}

// appendLocked appends a message, dropping the oldest entries past the
// history bound. Caller holds m.mu.
func (m *Manager) appendLocked(s *Session, msg Message) {
	s.Messages = append(s.Messages, msg)
	if over := len(s.Messages) - m.opts.MaxMessages; over > 0 {
		s.Messages = append([]Message(nil), s.Messages[over:]...)
	}
}

// recentLocked returns the last ContextWindow messages by value. Caller
// holds m.mu.
func (m *Manager) recentLocked(s *Session) []Message {
	msgs := s.Messages
	if len(msgs) > m.opts.ContextWindow {
		msgs = msgs[len(msgs)-m.opts.ContextWindow:]
	}
	return append([]Message(nil), msgs...)
}
