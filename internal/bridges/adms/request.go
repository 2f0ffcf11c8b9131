package adms

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CommandState is the lifecycle position of a command.
type CommandState int

const (
	// AwaitingTransmission: issued, not yet fetched by the device.
	AwaitingTransmission CommandState = iota

	// AwaitingResponse: handed to the device on getrequest, reply pending.
	AwaitingResponse

	// Completed: the device replied on devicecmd. Terminal.
	Completed
)

// String returns the state name used in logs and the operator API.
func (s CommandState) String() string {
	switch s {
	case AwaitingTransmission:
		return "awaiting_transmission"
	case AwaitingResponse:
		return "awaiting_response"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// CommandRequest is one outstanding command on a session.
//
// Thread Safety: all fields are guarded by the owning session's mutex.
// done is closed exactly once, on completion or cancellation.
type CommandRequest struct {
	id          string
	text        string
	source      string
	state       CommandState
	resultText  string
	resultData  strings.Builder
	issuedAt    time.Time
	completedAt time.Time

	// abandoned is set when the waiter gave up (timeout or context).
	// A fetched request keeps the slot until its late devicecmd arrives
	// or it is cancelled.
	abandoned bool
	cancelled bool
	done      chan struct{}
}

func newCommandRequest(text, source string, now time.Time) *CommandRequest {
	return &CommandRequest{
		id:       uuid.NewString(),
		text:     text,
		source:   source,
		state:    AwaitingTransmission,
		issuedAt: now,
		done:     make(chan struct{}),
	}
}

// complete records the device's reply and releases the waiter.
// The caller holds the session mutex.
func (r *CommandRequest) complete(body string, now time.Time) {
	r.resultText = body
	r.state = Completed
	r.completedAt = now
	close(r.done)
}

// appendData adds one querydata chunk. Chunks are joined with "\n".
func (r *CommandRequest) appendData(chunk string) {
	if r.resultData.Len() > 0 {
		r.resultData.WriteByte('\n')
	}
	r.resultData.WriteString(chunk)
}

// cancel releases the waiter with ErrCommandCancelled. The caller holds
// the session mutex and has checked the request is not Completed.
func (r *CommandRequest) cancel() {
	r.cancelled = true
	close(r.done)
}

// replaceable reports whether a new command may take this request's slot.
// An abandoned request the device has fetched is still in flight: its
// reply may arrive at any time and must not land on a newer command.
func (r *CommandRequest) replaceable() bool {
	return r.state == Completed
}

// acceptsReply reports whether devicecmd and querydata input belongs to
// this request. Only a request the device has fetched can be answered.
func (r *CommandRequest) acceptsReply() bool {
	return r.state == AwaitingResponse
}

// CommandSnapshot is a read-only copy of a CommandRequest.
type CommandSnapshot struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	State     string    `json:"state"`
	Abandoned bool      `json:"abandoned,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

func (r *CommandRequest) snapshot() *CommandSnapshot {
	return &CommandSnapshot{
		ID:        r.id,
		Text:      r.text,
		Source:    r.source,
		State:     r.state.String(),
		Abandoned: r.abandoned,
		IssuedAt:  r.issuedAt,
	}
}

type sourceKey struct{}

// WithCommandSource tags commands issued with ctx as coming from source
// ("api", "mqtt", "monitor", ...). The tag appears in the command_issued
// event and in the session's command snapshot.
func WithCommandSource(ctx context.Context, source string) context.Context {
	if source == "" {
		return ctx
	}
	return context.WithValue(ctx, sourceKey{}, source)
}

// CommandSource returns the source set by WithCommandSource, or "".
func CommandSource(ctx context.Context) string {
	source, _ := ctx.Value(sourceKey{}).(string)
	return source
}

// Reply is one decoded line of a devicecmd body.
type Reply struct {
	Fields Fields `json:"fields"`

	// Return is the device result code; HasReturn is false when the line
	// carried no parsable Return field.
	Return    int  `json:"return"`
	HasReturn bool `json:"has_return"`
}

// OK reports whether the device accepted the command (Return >= 0).
func (r Reply) OK() bool {
	return r.HasReturn && r.Return >= 0
}

// CommandResult is what a completed command produced.
type CommandResult struct {
	ID       string        `json:"id"`
	Command  string        `json:"command"`
	Response string        `json:"response"`
	Data     string        `json:"data,omitempty"`
	Replies  []Reply       `json:"replies"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the replies the device rejected.
func (c *CommandResult) Failed() []Reply {
	var failed []Reply
	for _, r := range c.Replies {
		if r.HasReturn && r.Return < 0 {
			failed = append(failed, r)
		}
	}
	return failed
}

func parseReplies(text string) []Reply {
	decoded := DecodeReplies(text)
	replies := make([]Reply, len(decoded))
	for i, f := range decoded {
		replies[i] = Reply{Fields: f}
		if v, ok := f["Return"]; ok {
			if code, err := parseInt(v); err == nil {
				replies[i].Return = code
				replies[i].HasReturn = true
			}
		}
	}
	return replies
}
