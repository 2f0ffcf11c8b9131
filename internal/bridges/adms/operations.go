package adms

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultOptionKeys are read by PullOptions when no keys are given.
var DefaultOptionKeys = []string{"DeviceName", "FirmVer", "IPAddress", "NetMask", "GATEIPAddress"}

// PushClockTime sets the device clock to the server's current time.
func (s *Session) PushClockTime(ctx context.Context) (*CommandResult, error) {
	packed := EncodeDeviceTime(s.clock())
	return s.IssueCommand(ctx, EncodeCommand(1, "SET OPTIONS DateTime="+strconv.FormatInt(packed, 10)))
}

// PushUsers uploads users, then their extended settings, then their
// authorisations, as three batches in that order. Empty lists are
// skipped. The first batch that fails stops the sequence; results of the
// batches already sent are returned with the error.
func (s *Session) PushUsers(ctx context.Context, users []User, extended []UserExtended, authorizations []UserAuthorize) ([]*CommandResult, error) {
	batches := []struct {
		table   string
		records []Record
	}{
		{TableUser, toRecords(users)},
		{TableUserExtended, toRecords(extended)},
		{TableUserAuthorize, toRecords(authorizations)},
	}

	var results []*CommandResult
	for _, batch := range batches {
		if len(batch.records) == 0 {
			continue
		}
		res, err := s.IssueBatch(ctx, batch.records)
		if err != nil {
			return results, fmt.Errorf("pushing %s batch: %w", batch.table, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// RowError describes a data row that could not be decoded.
type RowError struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// TableResult is the outcome of a table pull.
type TableResult struct {
	Table     string         `json:"table"`
	Records   []Record       `json:"records"`
	RowErrors []RowError     `json:"row_errors,omitempty"`
	Command   *CommandResult `json:"-"`
}

// PullTable reads every row of table from the device.
//
// Rows arrive over one or more querydata submissions. Blank lines are
// skipped; a row that cannot be decoded is reported in RowErrors and a
// decode_error event without affecting the others.
func (s *Session) PullTable(ctx context.Context, table string) (*TableResult, error) {
	table = strings.ToLower(strings.TrimSpace(table))
	decode, err := DecoderFor(table)
	if err != nil {
		return nil, err
	}

	res, err := s.IssueCommand(ctx, EncodeCommand(1, "DATA QUERY tablename="+table+",fielddesc=*,filter=*"))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}

	out := &TableResult{Table: table, Records: []Record{}, Command: res}
	for i, line := range strings.Split(strings.ReplaceAll(res.Data, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := StripTablePrefix(table, DecodeFields(line, TabSeparator))
		record, err := decode(fields)
		if err != nil {
			out.RowErrors = append(out.RowErrors, RowError{Line: i + 1, Text: line, Error: err.Error()})
			s.emit(Event{
				Type:      EventDecodeError,
				Message:   "row decode failed",
				CommandID: res.ID,
				Fields:    map[string]any{"table": table, "line": i + 1, "error": err.Error()},
			})
			continue
		}
		out.Records = append(out.Records, record)
		s.emit(Event{
			Type:      EventRecord,
			Message:   "record decoded",
			CommandID: res.ID,
			Fields:    map[string]any{"table": table, "record": record},
		})
	}
	return out, nil
}

// PullRecords is PullTable with the records asserted to R.
//
// Example:
//
//	txs, err := adms.PullRecords[adms.Transaction](ctx, session, adms.TableTransaction)
func PullRecords[R Record](ctx context.Context, s *Session, table string) ([]R, *TableResult, error) {
	res, err := s.PullTable(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	out := make([]R, 0, len(res.Records))
	for _, rec := range res.Records {
		typed, ok := rec.(R)
		if !ok {
			return nil, res, fmt.Errorf("%w: %s rows are %T", ErrUnknownTable, table, rec)
		}
		out = append(out, typed)
	}
	return out, res, nil
}

// PullOptions reads device options. Keys default to DefaultOptionKeys.
// The values read are also kept on the session (see Info).
func (s *Session) PullOptions(ctx context.Context, keys []string) (Fields, error) {
	if len(keys) == 0 {
		keys = DefaultOptionKeys
	}
	res, err := s.IssueCommand(ctx, EncodeCommand(1, "GET OPTIONS ~"+strings.Join(keys, ",")))
	if err != nil {
		return nil, fmt.Errorf("reading options: %w", err)
	}
	opts := DecodeOptionLines(res.Data)
	if len(opts) > 0 {
		s.rememberOptions(opts)
	}
	return opts, nil
}

func toRecords[R Record](in []R) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}

// Execute runs cmd against the session for serial and returns the
// operation's result. It is the single entry point used by the MQTT
// bridge and the operator API. cmd.Source tags the commands it issues.
func (m *Manager) Execute(ctx context.Context, serial string, cmd CommandMessage) (any, error) {
	s, err := m.Session(serial)
	if err != nil {
		return nil, err
	}
	ctx = WithCommandSource(ctx, cmd.Source)

	switch cmd.Command {
	case CommandRaw:
		return s.IssueCommand(ctx, cmd.Text)
	case CommandSyncClock:
		return s.PushClockTime(ctx)
	case CommandPullTable:
		return s.PullTable(ctx, cmd.Table)
	case CommandPullOptions:
		return s.PullOptions(ctx, cmd.Keys)
	case CommandPushUsers:
		return s.PushUsers(ctx, cmd.Users, cmd.Extended, cmd.Authorizations)
	case CommandCancel:
		return map[string]bool{"cancelled": s.Cancel()}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
}
