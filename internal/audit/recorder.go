package audit

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
)

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Logger is the subset of logging.Logger the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder is an adms.EventSink that writes device events to a Repository.
//
// Per-request traces and per-row record events are skipped by default;
// they are high volume and carry device data rather than lifecycle.
type Recorder struct {
	repo   Repository
	logger Logger
	skip   map[adms.EventType]bool
}

// NewRecorder returns a recorder writing to repo. logger may be nil.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		skip: map[adms.EventType]bool{
			adms.EventDeviceMessage: true,
			adms.EventRecord:        true,
		},
	}
}

// Include makes the recorder persist events of type t. Call it before
// the recorder receives events.
func (r *Recorder) Include(t adms.EventType) {
	delete(r.skip, t)
}

// HandleEvent implements adms.EventSink.
func (r *Recorder) HandleEvent(e adms.Event) {
	if r.skip[e.Type] {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.repo.Create(ctx, &Entry{
		SerialNumber: e.SerialNumber,
		Type:         string(e.Type),
		Message:      e.Message,
		CommandID:    e.CommandID,
		Fields:       e.Fields,
		OccurredAt:   e.Timestamp,
	})
	if err != nil && r.logger != nil {
		r.logger.Warn("failed to record device event",
			"serial_number", e.SerialNumber,
			"type", e.Type,
			"error", err)
	}
}
