package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rudeworld/omnicon-web/internal/db"
	"github.com/rudeworld/omnicon-web/internal/execrunner"
	"github.com/rudeworld/omnicon-web/internal/logging"
	"github.com/rudeworld/omnicon-web/internal/model"
	"github.com/rudeworld/omnicon-web/internal/pty"
	"github.com/rudeworld/omnicon-web/internal/repository"
	"github.com/rudeworld/omnicon-web/internal/session"
	"github.com/rudeworld/omnicon-web/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func requirePTY(t *testing.T) {
	t.Helper()
	if err := pty.Probe(); err != nil {
		t.Skipf("pty not available: %v", err)
	}
}

func newExecHandler(t *testing.T) (*ExecHandler, *HistoryHandler) {
	t.Helper()
	log := logging.NewNop()
	conn, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("NewTestDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	repo := repository.NewHistoryRepository(conn, log)

	runner := execrunner.NewRunner(execrunner.Options{
		DefaultTimeout: 10 * time.Second,
		MaxTimeout:     30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}, log)
	return NewExecHandler(runner, repo, log), NewHistoryHandler(repo, log)
}

func newInteractiveServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	log := logging.NewNop()
	registry := session.NewRegistry(session.Options{
		Shell:          "/bin/sh",
		MaxSessions:    4,
		IdleTimeout:    10 * time.Minute,
		CloseGrace:     2 * time.Second,
		ScrollbackSize: 64 * 1024,
	}, nil, log)
	t.Cleanup(registry.CloseAll)

	execHandler, historyHandler := newExecHandler(t)
	transport := NewInteractiveTransport(registry, execHandler, historyHandler, 64, log)

	router := gin.New()
	transport.Register(router.Group("/api/terminal"))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func newFallbackServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logging.NewNop()
	execHandler, historyHandler := newExecHandler(t)
	transport := NewFallbackTransport(execHandler, historyHandler, log)

	router := gin.New()
	transport.Register(router.Group("/api/terminal"))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestInteractive_SessionLifecycleOverWebSocket(t *testing.T) {
	requirePTY(t)

	srv, _ := newInteractiveServer(t)

	// Create.
	resp := postJSON(t, srv.URL+"/api/terminal/sessions", CreateSessionRequest{Rows: 24, Cols: 80})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var info model.SessionInfo
	decode(t, resp, &info)
	if info.ID == "" || info.State != model.StateRunning {
		t.Fatalf("unexpected session info: %+v", info)
	}

	// Attach.
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/terminal/sessions/"+info.ID+"/attach"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	// Preamble: dimensions first, then history_end (no history yet).
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read preamble: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text frame first, got type %d", mt)
	}
	frame, err := ws.ParseControl(data)
	if err != nil || frame.Type != ws.ControlDimensions {
		t.Fatalf("expected dimensions frame, got %s (%v)", data, err)
	}
	if frame.Rows != 24 || frame.Cols != 80 {
		t.Errorf("expected 24x80, got %dx%d", frame.Rows, frame.Cols)
	}

	sawHistoryEnd := false
	var output bytes.Buffer

	readUntil := func(marker string) {
		t.Helper()
		for !bytes.Contains(output.Bytes(), []byte(marker)) {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				t.Fatalf("read: %v (so far: %q)", err, output.String())
			}
			switch mt {
			case websocket.BinaryMessage:
				output.Write(data)
			case websocket.TextMessage:
				f, err := ws.ParseControl(data)
				if err != nil {
					t.Fatalf("bad control frame: %v", err)
				}
				if f.Type == ws.ControlHistoryEnd {
					sawHistoryEnd = true
				}
			}
		}
	}

	// Run a command through the PTY and read it back.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("echo api-ws-marker\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil("api-ws-marker")

	if !sawHistoryEnd {
		t.Error("history_end frame never arrived before live output")
	}

	// Resize is accepted silently.
	resize, _ := json.Marshal(ws.ControlFrame{Type: ws.ControlResize, Rows: 40, Cols: 120})
	if err := conn.WriteMessage(websocket.TextMessage, resize); err != nil {
		t.Fatalf("write resize: %v", err)
	}

	// Close through the control channel; the server confirms with a
	// close frame before dropping the socket.
	closeFrame, _ := json.Marshal(ws.ControlFrame{Type: ws.ControlClose})
	if err := conn.WriteMessage(websocket.TextMessage, closeFrame); err != nil {
		t.Fatalf("write close: %v", err)
	}

	sawClose := false
	for !sawClose {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.TextMessage {
			if f, err := ws.ParseControl(data); err == nil && f.Type == ws.ControlClose {
				sawClose = true
			}
		}
	}
	if !sawClose {
		t.Error("never received the confirming close frame")
	}

	// The session is gone.
	getResp, err := http.Get(srv.URL + "/api/terminal/sessions/" + info.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != 404 {
		t.Errorf("expected 404 after close, got %d", getResp.StatusCode)
	}
}

func TestInteractive_AttachConflict(t *testing.T) {
	requirePTY(t)

	srv, _ := newInteractiveServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/sessions", CreateSessionRequest{})
	var info model.SessionInfo
	decode(t, resp, &info)

	attachURL := wsURL(srv, "/api/terminal/sessions/"+info.ID+"/attach")

	conn, _, err := websocket.DefaultDialer.Dial(attachURL, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer conn.Close()

	// The second attach is refused before the upgrade.
	_, resp2, err := websocket.DefaultDialer.Dial(attachURL, nil)
	if err == nil {
		t.Fatal("second dial unexpectedly succeeded")
	}
	if resp2 == nil || resp2.StatusCode != 409 {
		t.Fatalf("expected 409, got %+v", resp2)
	}
	var envelope ErrorResponse
	decode(t, resp2, &envelope)
	if envelope.Error.Code != CodeAttachConflict {
		t.Errorf("expected %s, got %s", CodeAttachConflict, envelope.Error.Code)
	}

	// After the first client hangs up, attaching works again.
	conn.Close()
	var conn2 *websocket.Conn
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn2, _, err = websocket.DefaultDialer.Dial(attachURL, nil)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("re-attach never succeeded: %v", err)
	}
	conn2.Close()
}

func TestInteractive_DeleteSession(t *testing.T) {
	requirePTY(t)

	srv, registry := newInteractiveServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/sessions", CreateSessionRequest{})
	var info model.SessionInfo
	decode(t, resp, &info)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/terminal/sessions/"+info.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", delResp.StatusCode)
	}

	if _, err := registry.Get(info.ID); err == nil {
		t.Error("session still registered after delete")
	}

	// Deleting again is a 404, not an error path.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/terminal/sessions/"+info.ID, nil)
	delResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", delResp.StatusCode)
	}
}

func TestInteractive_UnknownSession(t *testing.T) {
	requirePTY(t)

	srv, _ := newInteractiveServer(t)

	resp, err := http.Get(srv.URL + "/api/terminal/sessions/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var envelope ErrorResponse
	decode(t, resp, &envelope)
	if resp.StatusCode != 404 || envelope.Error.Code != CodeSessionNotFound {
		t.Errorf("expected 404 %s, got %d %s", CodeSessionNotFound, resp.StatusCode, envelope.Error.Code)
	}
}

func TestFallback_SessionRoutesAnswer501(t *testing.T) {
	srv := newFallbackServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/sessions", CreateSessionRequest{})
	if resp.StatusCode != 501 {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
	var envelope ErrorResponse
	decode(t, resp, &envelope)
	if envelope.Error.Code != CodeTerminalUnsupported {
		t.Errorf("expected %s, got %s", CodeTerminalUnsupported, envelope.Error.Code)
	}

	capResp, err := http.Get(srv.URL + "/api/terminal/capability")
	if err != nil {
		t.Fatalf("GET capability: %v", err)
	}
	var caps CapabilityResponse
	decode(t, capResp, &caps)
	if caps.Interactive || caps.Mode != "fallback" {
		t.Errorf("unexpected capability: %+v", caps)
	}
}

func TestExec_RunsInBothModes(t *testing.T) {
	srv := newFallbackServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/exec", ExecRequest{Command: "echo fallback-marker"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out ExecResponse
	decode(t, resp, &out)
	if !strings.Contains(out.Stdout, "fallback-marker") {
		t.Errorf("stdout missing marker: %q", out.Stdout)
	}
	if out.ExitCode != 0 || out.TimedOut {
		t.Errorf("unexpected result: %+v", out)
	}
}

func TestExec_TimeoutReturnsPartialOutput(t *testing.T) {
	srv := newFallbackServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/exec", ExecRequest{
		Command:   `sh -c 'echo partial; sleep 30'`,
		TimeoutMs: 300,
	})
	if resp.StatusCode != 408 {
		t.Fatalf("expected 408, got %d", resp.StatusCode)
	}
	var out ExecResponse
	decode(t, resp, &out)
	if !out.TimedOut {
		t.Error("expected timed_out")
	}
	if !strings.Contains(out.Stdout, "partial") {
		t.Errorf("partial output missing: %q", out.Stdout)
	}
	if out.Error == nil || out.Error.Code != CodeExecTimeout {
		t.Errorf("expected %s error detail, got %+v", CodeExecTimeout, out.Error)
	}
}

func TestExec_Validation(t *testing.T) {
	srv := newFallbackServer(t)

	resp := postJSON(t, srv.URL+"/api/terminal/exec", map[string]string{})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/terminal/exec", ExecRequest{Command: "/no/such/bin"})
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var envelope ErrorResponse
	decode(t, resp, &envelope)
	if envelope.Error.Code != CodeExecFailed {
		t.Errorf("expected %s, got %s", CodeExecFailed, envelope.Error.Code)
	}
}

func TestHistory_ExecRunsRecorded(t *testing.T) {
	srv := newFallbackServer(t)

	postJSON(t, srv.URL+"/api/terminal/exec", ExecRequest{Command: "echo remembered"}).Body.Close()

	resp, err := http.Get(srv.URL + "/api/terminal/history/exec")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	var out struct {
		Runs  []ExecRunEntry `json:"runs"`
		Count int            `json:"count"`
	}
	decode(t, resp, &out)
	if out.Count != 1 || len(out.Runs) != 1 {
		t.Fatalf("expected one recorded run, got %+v", out)
	}
	if out.Runs[0].Command != "echo remembered" {
		t.Errorf("unexpected command: %q", out.Runs[0].Command)
	}
}
