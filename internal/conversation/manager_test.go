package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeVoice struct {
	mu     sync.Mutex
	spoken []string
	ok     bool
}

func (f *fakeVoice) Speak(text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.ok
}

func (f *fakeVoice) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.spoken) == 0 {
		return ""
	}
	return f.spoken[len(f.spoken)-1]
}

type fakeResponder struct {
	mu       sync.Mutex
	response string
	err      error
	history  []Message
}

func (f *fakeResponder) Generate(_ context.Context, _ string, history []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append([]Message(nil), history...)
	return f.response, f.err
}

type countingListener struct {
	mu       sync.Mutex
	started  []Session
	ended    []Session
	exchange int
}

func (l *countingListener) OnSessionStarted(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, s)
}

func (l *countingListener) OnSessionEnded(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, s)
}

func (l *countingListener) OnExchange(Session, Message, Message, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exchange++
}

func newTestManager(voice *fakeVoice, responder Responder) (*Manager, *time.Time) {
	m := NewManager(voice, responder, Options{})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestBuiltinGreeting(t *testing.T) {
	v := &fakeVoice{ok: true}
	m, _ := newTestManager(v, nil)
	lst := &countingListener{}
	m.AddListener(lst)

	m.OnWakeDetected()
	m.OnCommandReceived("bonjour", 0.9)

	msgs, found := m.History("")
	if !found {
		t.Fatal("current session not found")
	}
	if len(msgs) != 2 {
		t.Fatalf("history has %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "bonjour" {
		t.Fatalf("first message = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content == "" {
		t.Fatalf("second message = %+v", msgs[1])
	}
	if v.last() != msgs[1].Content {
		t.Fatalf("spoken %q != recorded response %q", v.last(), msgs[1].Content)
	}

	lst.mu.Lock()
	defer lst.mu.Unlock()
	if len(lst.started) != 1 || lst.exchange != 1 {
		t.Fatalf("started=%d exchanges=%d, want 1/1", len(lst.started), lst.exchange)
	}
}

func TestBuiltinTimeIntent(t *testing.T) {
	v := &fakeVoice{ok: true}
	m, clock := newTestManager(v, nil)

	m.OnWakeDetected()
	m.OnCommandReceived("quelle heure est-il", 0.9)

	want := clock.Format("15:04")
	if !strings.Contains(v.last(), want) {
		t.Fatalf("time response %q does not contain %q", v.last(), want)
	}
}

func TestSessionReuseWithinTimeout(t *testing.T) {
	v := &fakeVoice{ok: true}
	m, clock := newTestManager(v, nil)

	m.OnWakeDetected()
	first := m.CurrentSessionID()

	*clock = clock.Add(2 * time.Minute)
	m.OnWakeDetected()
	if got := m.CurrentSessionID(); got != first {
		t.Fatalf("session replaced within timeout: %q -> %q", first, got)
	}

	*clock = clock.Add(6 * time.Minute)
	m.OnWakeDetected()
	if got := m.CurrentSessionID(); got == first {
		t.Fatal("expired session reused")
	}
}

func TestSessionExpiryNotifiesOnce(t *testing.T) {
	v := &fakeVoice{ok: true}
	m, clock := newTestManager(v, nil)
	lst := &countingListener{}
	m.AddListener(lst)

	m.OnWakeDetected()
	id := m.CurrentSessionID()

	*clock = clock.Add(10 * time.Minute)
	// any lookup sweeps
	if _, found := m.History(id); found {
		t.Fatal("expired session still visible")
	}
	st := m.Status()
	if st.ActiveSessionCount != 0 || st.CurrentSessionID != "" {
		t.Fatalf("status after expiry = %+v", st)
	}

	lst.mu.Lock()
	ended := len(lst.ended)
	lst.mu.Unlock()
	if ended != 1 {
		t.Fatalf("ended events = %d, want exactly 1", ended)
	}
}

func TestCommandWithoutSession(t *testing.T) {
	v := &fakeVoice{ok: true}
	m, _ := newTestManager(v, nil)

	m.OnCommandReceived("bonjour", 0.9)
	if v.last() != "" {
		t.Fatalf("spoke %q with no active session", v.last())
	}
	if err := m.SendCommand("bonjour"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("SendCommand = %v, want ErrNoSession", err)
	}
}

func TestResponderFailureApologizes(t *testing.T) {
	v := &fakeVoice{ok: true}
	r := &fakeResponder{err: errors.New("upstream down")}
	m, _ := newTestManager(v, r)

	m.OnWakeDetected()
	m.OnCommandReceived("raconte une blague", 0.9)

	if v.last() != apologyResponse {
		t.Fatalf("response = %q, want apology", v.last())
	}
}

func TestResponderEmptyFallsBackToClarification(t *testing.T) {
	v := &fakeVoice{ok: true}
	r := &fakeResponder{response: ""}
	m, _ := newTestManager(v, r)

	m.OnWakeDetected()
	m.OnCommandReceived("xyzzy", 0.9)

	got := v.last()
	found := false
	for _, c := range clarificationResponses {
		if got == c {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("response %q is not a clarification", got)
	}
}

func TestResponderReceivesBoundedContext(t *testing.T) {
	v := &fakeVoice{ok: true}
	r := &fakeResponder{response: "ok"}
	m, _ := newTestManager(v, r)

	m.OnWakeDetected()
	for i := 0; i < 15; i++ {
		m.OnCommandReceived(fmt.Sprintf("commande %d", i), 0.9)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) != 10 {
		t.Fatalf("responder context = %d messages, want 10", len(r.history))
	}
	// the just-appended user turn must be last
	last := r.history[len(r.history)-1]
	if last.Role != RoleUser || last.Content != "commande 14" {
		t.Fatalf("last context message = %+v", last)
	}
}

func TestHistoryBound(t *testing.T) {
	v := &fakeVoice{ok: true}
	r := &fakeResponder{response: "ok"}
	m, _ := newTestManager(v, r)

	m.OnWakeDetected()
	for i := 0; i < 40; i++ {
		m.OnCommandReceived(fmt.Sprintf("commande %d", i), 0.9)
	}

	msgs, _ := m.History("")
	if len(msgs) != 50 {
		t.Fatalf("history = %d messages, want capped at 50", len(msgs))
	}
	// oldest turns were dropped; the newest must survive
	if msgs[len(msgs)-2].Content != "commande 39" {
		t.Fatalf("unexpected newest user turn: %q", msgs[len(msgs)-2].Content)
	}
}

func TestSpeakFailureStillRecordsExchange(t *testing.T) {
	v := &fakeVoice{ok: false}
	m, _ := newTestManager(v, nil)
	lst := &countingListener{}
	m.AddListener(lst)

	m.OnWakeDetected()
	m.OnCommandReceived("bonjour", 0.9)

	msgs, _ := m.History("")
	if len(msgs) != 2 {
		t.Fatalf("history = %d messages, want 2 despite speech failure", len(msgs))
	}
	lst.mu.Lock()
	defer lst.mu.Unlock()
	if lst.exchange != 1 {
		t.Fatalf("exchanges = %d, want 1", lst.exchange)
	}
}
