package server

import (
	"encoding/json"
	"net/http"
)

// Pre-allocated byte slices for SSE formatting. These avoid heap allocations
// on every write in the streaming hot path.
var (
	sseIDPrefix    = []byte("id: ")
	sseEventChange = []byte("event: change\n")
	sseDataPrefix  = []byte("data: ")
	sseLineEnd     = []byte("\n")
	sseNewline     = []byte("\n\n")
	sseKeepAlive   = []byte(": keep-alive\n\n")
	sseEventError  = []byte("event: error\n")
)

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// writeSSEHeaders sets the response headers for an SSE stream.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// writeSSEChange writes a change frame: "id: <id>\nevent: change\ndata: <payload>\n\n".
func writeSSEChange(w http.ResponseWriter, id string, data []byte) {
	if id != "" {
		w.Write(sseIDPrefix)
		w.Write([]byte(id))
		w.Write(sseLineEnd)
	}
	w.Write(sseEventChange)
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}

// writeSSEKeepAlive writes an SSE comment to keep the connection alive.
func writeSSEKeepAlive(w http.ResponseWriter) {
	w.Write(sseKeepAlive)
}

// writeSSEError writes a terminal error frame.
func writeSSEError(w http.ResponseWriter, msg string) {
	data, _ := json.Marshal(errorResponse(http.StatusServiceUnavailable, msg))
	w.Write(sseEventError)
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}
