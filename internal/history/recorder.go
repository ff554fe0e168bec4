package history

import (
	"context"
	"time"

	"github.com/ogb4n/Jarvis/internal/conversation"
	"github.com/ogb4n/Jarvis/internal/logging"
)

// Recorder persists completed exchanges as a conversation listener. Writes
// happen off the detector's processing loop; failures are logged, never
// surfaced to the conversation path.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) OnSessionStarted(conversation.Session) {}

func (r *Recorder) OnSessionEnded(conversation.Session) {}

func (r *Recorder) OnExchange(s conversation.Session, user, assistant conversation.Message, took time.Duration, spoken bool) {
	rec := Record{
		SatelliteID:   s.SatelliteID,
		SessionID:     s.ID,
		Transcription: user.Content,
		Response:      assistant.Content,
		Success:       spoken,
		ProcessingMs:  took.Milliseconds(),
		CreatedAt:     user.Timestamp,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Save(ctx, rec); err != nil {
			logging.Errorw("history: failed to persist exchange", "err", err, "session_id", s.ID)
		}
	}()
}
