package perfcapture

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler returns a handler rendering the state of the session's
// buffers. A POST with a "stop" field stops a running session.
func (s *Session) HTTPHandler() http.Handler {
	return httpHandler{s: s}
}

type httpHandler struct {
	s *Session
}

func (h httpHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// GETs render the current state of the buffers.
	if req.Method == http.MethodGet {
		h.handleGet(w)
		return
	}
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := req.ParseForm(); err != nil {
		h.s.logger.Warn("failed to parse form", zap.Error(err))
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if _, ok := req.Form["stop"]; !ok {
		http.Error(w, "invalid POST: missing stop", http.StatusBadRequest)
		return
	}
	h.s.Stop()

	// Wait a little bit for the session to wind down before rendering the
	// page.
	timeout := time.Now().Add(time.Second)
	for h.s.Running() && time.Now().Before(timeout) {
		time.Sleep(10 * time.Millisecond)
	}
	h.handleGet(w)
}

func (h httpHandler) handleGet(w http.ResponseWriter) {
	statusStr, color := "stopped", "red"
	if h.s.Running() {
		statusStr, color = "running", "green"
	}

	sb := strings.Builder{}
	sb.WriteString(`<html>
<head>
	<title>perfcapture session</title>
	<style>
	.circle {
		height: 21px;
		width: 21px;
		border-radius: 50%;
		display: inline-block;
	}
	td { padding: 0 1em; text-align: right; }
	</style>
</head>
<body>
<h1>perfcapture session</h1>
`)
	sb.WriteString(fmt.Sprintf(`
<div style="display:flex; flex-direction:row; align-items:center; gap:3px">
	<div class="circle" style="background-color:%s;"></div>
	<span>%s</span>
</div>
<p>Session: %s, up %s</p>
`, color, statusStr, h.s.ID(), time.Since(h.s.started).Truncate(time.Second)))

	sb.WriteString(`<table>
<tr><th>Core</th><th>Channel</th><th>Used</th><th>Capacity</th><th>Sent</th><th>Waits</th><th>Dropped</th><th>Done</th></tr>
`)
	for _, st := range h.s.Stats() {
		sb.WriteString(fmt.Sprintf(
			"<tr><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%d</td><td>%t</td></tr>\n",
			st.Core, st.Channel, st.Ring.Used(), st.Ring.Capacity, st.Sent, st.Waits, st.Dropped, st.Done))
	}
	sb.WriteString("</table>\n")

	stopAttribute := ""
	if !h.s.Running() {
		stopAttribute = "disabled"
	}
	sb.WriteString(fmt.Sprintf(`<form action="" method="POST">
<input type="submit" value="Stop" name="stop" %s/>
</form>
</body>
</html>`, stopAttribute))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(sb.String())); err != nil {
		h.s.logger.Warn("failed to write response", zap.Error(err))
	}
}
