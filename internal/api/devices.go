package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
)

// commandSource tags commands issued through the operator API. The token
// subject is appended when operator auth is enabled.
const commandSource = "api"

// commandRequest is the body for POST /devices/{sn}/commands.
type commandRequest struct {
	Command string `json:"command"`
}

// pushUsersRequest is the body for POST /devices/{sn}/users.
type pushUsersRequest struct {
	Users          []adms.User          `json:"users"`
	Extended       []adms.UserExtended  `json:"extended"`
	Authorizations []adms.UserAuthorize `json:"authorizations"`
}

// handleListDevices returns every device that has contacted the server.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	sessions := s.devices.Sessions()
	devices := make([]adms.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		devices = append(devices, session.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device's session snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	session, err := s.devices.Session(chi.URLParam(r, "sn"))
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Info())
}

// handleIssueCommand sends a raw command line and blocks until the device
// replies or the command timeout fires.
func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}
	s.execute(w, r, adms.CommandMessage{Command: adms.CommandRaw, Text: req.Command})
}

// handleCancelCommand aborts the device's in-flight command.
func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, adms.CommandMessage{Command: adms.CommandCancel})
}

// handleSyncClock sets the device clock to server time.
func (s *Server) handleSyncClock(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, adms.CommandMessage{Command: adms.CommandSyncClock})
}

// handlePushUsers uploads users, their extended settings and their
// authorizations, in that order.
func (s *Server) handlePushUsers(w http.ResponseWriter, r *http.Request) {
	var req pushUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Users)+len(req.Extended)+len(req.Authorizations) == 0 {
		writeBadRequest(w, "at least one record is required")
		return
	}
	s.execute(w, r, adms.CommandMessage{
		Command:        adms.CommandPushUsers,
		Users:          req.Users,
		Extended:       req.Extended,
		Authorizations: req.Authorizations,
	})
}

// handlePullTable reads every row of a device table.
func (s *Server) handlePullTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if _, err := adms.DecoderFor(table); err != nil {
		writeCommandError(w, err)
		return
	}
	s.execute(w, r, adms.CommandMessage{Command: adms.CommandPullTable, Table: table})
}

// handlePullOptions reads device options.
//
// Query parameters:
//   - keys: comma-separated option names (default: the standard set)
func (s *Server) handlePullOptions(w http.ResponseWriter, r *http.Request) {
	var keys []string
	for _, k := range strings.Split(r.URL.Query().Get("keys"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	s.execute(w, r, adms.CommandMessage{Command: adms.CommandPullOptions, Keys: keys})
}

// execute runs cmd against the {sn} device and writes the result.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd adms.CommandMessage) {
	serial := chi.URLParam(r, "sn")
	cmd.Source = commandSource
	if subject, _ := r.Context().Value(ctxKeySubject).(string); subject != "" {
		cmd.Source += ":" + subject
	}

	result, err := s.devices.Execute(r.Context(), serial, cmd)
	if err != nil {
		s.logger.Warn("device command failed",
			"serial_number", serial,
			"command", string(cmd.Command),
			"error", err)
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
