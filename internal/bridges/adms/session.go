package adms

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-adms/internal/infrastructure/config"
)

// Session is the server-side state of one device, keyed by serial number.
//
// A session owns at most one in-flight command. Device requests for the
// same session are handled one at a time; requests for different
// sessions never block each other.
//
// Thread Safety: all methods are safe for concurrent use.
type Session struct {
	serial string
	cfg    *config.PushConfig
	sink   EventSink
	logger Logger
	clock  func() time.Time

	mu          sync.Mutex
	firstSeen   time.Time
	lastSeen    time.Time
	current     *CommandRequest
	requests    uint64
	lastRoute   Route
	pushVersion string
	options     Fields
}

func newSession(serial string, cfg *config.PushConfig, sink EventSink, logger Logger, clock func() time.Time) *Session {
	now := clock()
	return &Session{
		serial:    serial,
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		clock:     clock,
		firstSeen: now,
		lastSeen:  now,
	}
}

// SerialNumber returns the device serial number.
func (s *Session) SerialNumber() string {
	return s.serial
}

// LastSeen returns the time of the last ping or getrequest.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Current returns a snapshot of the in-flight command, or nil.
func (s *Session) Current() *CommandSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.snapshot()
}

// SessionInfo is a point-in-time view of a session for operators.
type SessionInfo struct {
	SerialNumber string           `json:"serial_number"`
	FirstSeen    time.Time        `json:"first_seen"`
	LastSeen     time.Time        `json:"last_seen"`
	Requests     uint64           `json:"requests"`
	LastRoute    string           `json:"last_route,omitempty"`
	PushVersion  string           `json:"push_version,omitempty"`
	Options      Fields           `json:"options,omitempty"`
	Command      *CommandSnapshot `json:"command,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		SerialNumber: s.serial,
		FirstSeen:    s.firstSeen,
		LastSeen:     s.lastSeen,
		Requests:     s.requests,
		LastRoute:    string(s.lastRoute),
		PushVersion:  s.pushVersion,
	}
	if len(s.options) > 0 {
		info.Options = make(Fields, len(s.options))
		for k, v := range s.options {
			info.Options[k] = v
		}
	}
	if s.current != nil {
		info.Command = s.current.snapshot()
	}
	return info
}

// Handle processes one device request under the session lock.
func (s *Session) Handle(req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	route := RouteOf(req.Path)
	now := s.clock()
	s.requests++
	s.lastRoute = route
	if v := req.Query.Get("pushver"); v != "" {
		s.pushVersion = v
	}

	s.emit(Event{
		Type:      EventDeviceMessage,
		Message:   "device request",
		Timestamp: now.UTC(),
		Fields:    map[string]any{"route": string(route), "method": req.Method},
	})

	switch route {
	case RouteRegistry:
		return textResponse(http.StatusOK, registryBody(now))

	case RoutePush:
		return textResponse(http.StatusOK, pushBody(s.cfg.Parameters))

	case RoutePing:
		s.lastSeen = now
		return okResponse()

	case RouteGetRequest:
		s.lastSeen = now
		if s.current != nil && s.current.state == AwaitingTransmission {
			s.current.state = AwaitingResponse
			return textResponse(http.StatusOK, s.current.text)
		}
		return okResponse()

	case RouteDeviceCmd:
		s.handleDeviceCmd(string(req.Body), now)
		return okResponse()

	case RouteQueryData:
		if s.current != nil && s.current.acceptsReply() {
			s.current.appendData(string(req.Body))
		} else {
			s.logger.Debug("querydata with no fetched command ignored", "serial_number", s.serial)
		}
		return okResponse()

	case RouteCData:
		if req.Method == http.MethodPost && len(strings.TrimSpace(string(req.Body))) > 0 {
			s.emit(Event{
				Type:    EventDataPushed,
				Message: "device pushed data",
				Fields: map[string]any{
					"table": req.Query.Get("table"),
					"lines": len(SplitLines(string(req.Body))),
				},
			})
		}
		return cdataResponse(s.serial, *s.cfg, now)

	default:
		return okResponse()
	}
}

// handleDeviceCmd completes the in-flight command. The caller holds s.mu.
func (s *Session) handleDeviceCmd(body string, now time.Time) {
	req := s.current
	switch {
	case req == nil:
		s.logger.Debug("devicecmd with no command in flight", "serial_number", s.serial)
		return
	case req.state == Completed:
		s.logger.Debug("duplicate devicecmd ignored", "serial_number", s.serial, "command_id", req.id)
		return
	case !req.acceptsReply():
		s.logger.Warn("devicecmd before command was fetched ignored", "serial_number", s.serial, "command_id", req.id)
		return
	}

	req.complete(body, now)
	s.emit(Event{
		Type:      EventCommandCompleted,
		Message:   "command completed",
		CommandID: req.id,
		Fields: map[string]any{
			"duration_ms": req.completedAt.Sub(req.issuedAt).Milliseconds(),
			"late":        req.abandoned,
		},
	})
}

// IssueCommand installs text as the session's command and waits for the
// device to fetch and answer it.
//
// Parameters:
//   - ctx: cancels the wait; the command is then treated as timed out
//   - text: the full command text, e.g. "C:1:SET OPTIONS DateTime=..."
//
// Returns:
//   - *CommandResult: the decoded devicecmd reply plus any querydata
//   - error: ErrCommandBusy, ErrCommandTimeout, ErrCommandCancelled or
//     the context error
func (s *Session) IssueCommand(ctx context.Context, text string) (*CommandResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyCommand
	}
	req, err := s.install(text, CommandSource(ctx))
	if err != nil {
		return nil, err
	}
	return s.await(ctx, req)
}

// IssueBatch sends records as one numbered DATA UPDATE batch.
func (s *Session) IssueBatch(ctx context.Context, records []Record) (*CommandResult, error) {
	if len(records) == 0 {
		return nil, ErrEmptyCommand
	}
	return s.IssueCommand(ctx, EncodeBatch(records))
}

// Cancel aborts the in-flight command, releasing its waiter with
// ErrCommandCancelled. It reports whether a command was in flight.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.current
	if req == nil {
		return false
	}
	s.current = nil
	if req.state == Completed {
		return false
	}

	req.cancel()
	s.emit(Event{
		Type:      EventCommandCancelled,
		Message:   "command cancelled",
		CommandID: req.id,
		Fields:    map[string]any{"state": req.state.String()},
	})
	return true
}

func (s *Session) install(text, source string) (*CommandRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.current; cur != nil && !cur.replaceable() {
		if cur.abandoned {
			return nil, fmt.Errorf("%w: %s still awaiting reply to %s", ErrCommandBusy, s.serial, firstLine(cur.text))
		}
		return nil, fmt.Errorf("%w: %s", ErrCommandBusy, s.serial)
	}

	req := newCommandRequest(text, source, s.clock())
	s.current = req
	fields := map[string]any{"command": firstLine(text)}
	if source != "" {
		fields["source"] = source
	}
	s.emit(Event{
		Type:      EventCommandIssued,
		Message:   "command issued",
		CommandID: req.id,
		Fields:    fields,
	})
	return req, nil
}

func (s *Session) await(ctx context.Context, req *CommandRequest) (*CommandResult, error) {
	timeout := s.cfg.CommandTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-req.done:
		return s.collect(req)

	case <-timer.C:
		if s.abandon(req) {
			return s.collect(req)
		}
		s.emit(Event{
			Type:      EventRequestTimeout,
			Message:   "command timed out",
			CommandID: req.id,
			Fields: map[string]any{
				"command":    firstLine(req.text),
				"timeout_ms": timeout.Milliseconds(),
			},
		})
		return nil, fmt.Errorf("%w after %s: %s", ErrCommandTimeout, timeout, firstLine(req.text))

	case <-ctx.Done():
		if s.abandon(req) {
			return s.collect(req)
		}
		return nil, ctx.Err()
	}
}

// abandon marks req as no longer awaited. A request the device never
// fetched is withdrawn; one the device has fetched stays installed so a
// late reply is still recorded. It reports true when req finished in the
// meantime and should be collected instead.
func (s *Session) abandon(req *CommandRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.state == Completed || req.cancelled {
		return true
	}
	req.abandoned = true
	if req.state == AwaitingTransmission && s.current == req {
		s.current = nil
	}
	return false
}

// collect turns a finished request into a result and frees the slot.
func (s *Session) collect(req *CommandRequest) (*CommandResult, error) {
	s.mu.Lock()
	cancelled := req.cancelled
	result := &CommandResult{
		ID:       req.id,
		Command:  req.text,
		Response: req.resultText,
		Data:     req.resultData.String(),
		Duration: req.completedAt.Sub(req.issuedAt),
	}
	if s.current == req {
		s.current = nil
	}
	s.mu.Unlock()

	if cancelled {
		return nil, ErrCommandCancelled
	}

	result.Replies = parseReplies(result.Response)
	for _, reply := range result.Replies {
		fields := map[string]any{
			"return":     reply.Return,
			"has_return": reply.HasReturn,
		}
		if v, ok := reply.Fields["CMD"]; ok {
			fields["cmd"] = v
		}
		if v, ok := reply.Fields["ID"]; ok {
			fields["id"] = v
		}
		s.emit(Event{
			Type:      EventReturnCode,
			Message:   "command return code",
			CommandID: req.id,
			Fields:    fields,
		})
	}
	return result, nil
}

func (s *Session) rememberOptions(opts Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.options == nil {
		s.options = make(Fields, len(opts))
	}
	for k, v := range opts {
		s.options[k] = v
	}
}

// emit stamps e with the session's serial number and hands it to the
// sink.
func (s *Session) emit(e Event) {
	e.SerialNumber = s.serial
	if e.Timestamp.IsZero() {
		e.Timestamp = s.clock().UTC()
	}
	s.sink.HandleEvent(e)
}

func firstLine(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		return text[:i] + " ..."
	}
	return text
}
