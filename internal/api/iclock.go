package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-adms/internal/bridges/adms"
)

// maxDeviceBodySize caps a terminal upload. Table dumps with photos and
// templates run well past the operator limit.
const maxDeviceBodySize = 16 << 20

// handleDeviceRequest hands a terminal request to the protocol engine and
// writes its response verbatim.
func (s *Server) handleDeviceRequest(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxDeviceBodySize))
		if err != nil {
			s.logger.Warn("reading device request body failed",
				"path", r.URL.Path,
				"serial_number", r.URL.Query().Get("SN"),
				"error", err)
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
	}

	resp := s.devices.Dispatch(adms.Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Body:   body,
	})

	for key, values := range resp.Header {
		w.Header()[key] = values
	}
	w.WriteHeader(resp.Status)
	//nolint:errcheck // Terminal may drop the connection; nothing to do
	io.WriteString(w, resp.Body)
}
