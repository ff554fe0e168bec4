package satellite

import (
	"time"

	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/logging"
	"github.com/ogb4n/Jarvis/internal/voice"
)

// Announcer mirrors engine events back onto the satellite topics: assistant
// replies go to jarvis/<id>/say, lifecycle and state changes to
// jarvis/<id>/event. Publish failures are logged and dropped; satellites
// resynchronize from the next event.
type Announcer struct {
	source    *Source
	satellite string
}

// NewAnnouncer publishes for one satellite id (the manager's session key).
func NewAnnouncer(source *Source, satelliteID string) *Announcer {
	return &Announcer{source: source, satellite: satelliteID}
}

// conversation.Listener

func (a *Announcer) OnSessionStarted(s conversation.Session) {
	a.publishEvent(s.SatelliteID, "session_started", map[string]interface{}{"session_id": s.ID})
}

func (a *Announcer) OnSessionEnded(s conversation.Session) {
	a.publishEvent(s.SatelliteID, "session_ended", map[string]interface{}{"session_id": s.ID})
}

func (a *Announcer) OnExchange(s conversation.Session, _, assistant conversation.Message, _ time.Duration, _ bool) {
	if err := a.source.Say(s.SatelliteID, assistant.Content); err != nil {
		logging.Warnw("satellite: reply publish failed", "err", err, "satellite_id", s.SatelliteID)
	}
}

// voice.Listener

func (a *Announcer) OnWakeDetected() {
	a.publishEvent(a.satellite, "wake_detected", nil)
}

func (a *Announcer) OnCommandReceived(text string, confidence float64) {
	a.publishEvent(a.satellite, "command_received", map[string]interface{}{
		"text":       text,
		"confidence": confidence,
	})
}

func (a *Announcer) OnStateChanged(s voice.State) {
	a.publishEvent(a.satellite, "state_changed", map[string]interface{}{"state": s.String()})
}

func (a *Announcer) publishEvent(satelliteID, event string, data map[string]interface{}) {
	if err := a.source.PublishEvent(satelliteID, event, data); err != nil {
		logging.Debugw("satellite: event publish failed", "err", err, "event", event)
	}
}
