package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// obs-websocket v5 opcodes used by the mock.
const (
	obsOpHello      = 0
	obsOpIdentify   = 1
	obsOpIdentified = 2
	obsOpRequest    = 6
	obsOpResponse   = 7
)

type obsEnvelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

// ObsRequest is one RPC the mock received.
type ObsRequest struct {
	RequestType string          `json:"requestType"`
	RequestID   string          `json:"requestId"`
	RequestData json.RawMessage `json:"requestData"`
}

// ObsHandler produces the response data for a request; ok=false yields a
// failed request status.
type ObsHandler func(req ObsRequest) (data any, ok bool)

// MockObsServer speaks the obs-websocket v5 handshake and answers RPCs.
type MockObsServer struct {
	*httptest.Server

	mu sync.Mutex
	// Password enables challenge auth in the Hello frame.
	Password string
	// RejectConnects makes the next N upgrade attempts fail at the HTTP
	// layer; the reconnect tests use it.
	RejectConnects int
	// Handlers maps requestType to a response producer; unhandled types
	// succeed with empty data.
	Handlers map[string]ObsHandler

	Requests []ObsRequest
	Connects int
}

// NewMockObsServer starts the server. URL is http; WSURL converts it.
func NewMockObsServer(t *testing.T) *MockObsServer {
	t.Helper()
	m := &MockObsServer{Handlers: make(map[string]ObsHandler)}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		if m.RejectConnects > 0 {
			m.RejectConnects--
			m.mu.Unlock()
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		m.Connects++
		m.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.serve(conn)
	}))
	t.Cleanup(m.Close)
	return m
}

// WSURL is the ws:// address clients dial.
func (m *MockObsServer) WSURL() string {
	return "ws" + strings.TrimPrefix(m.URL, "http")
}

func (m *MockObsServer) serve(conn *websocket.Conn) {
	defer conn.Close()

	hello := map[string]any{
		"obsWebSocketVersion": "5.3.0",
		"rpcVersion":          1,
	}
	var salt, challenge string
	if m.Password != "" {
		salt, challenge = "testsalt", "testchallenge"
		hello["authentication"] = map[string]string{"challenge": challenge, "salt": salt}
	}
	if err := writeObs(conn, obsOpHello, hello); err != nil {
		return
	}

	// Identify
	var env obsEnvelope
	if err := readObs(conn, &env); err != nil || env.Op != obsOpIdentify {
		return
	}
	if m.Password != "" {
		var ident struct {
			Authentication string `json:"authentication"`
		}
		_ = json.Unmarshal(env.D, &ident)
		if ident.Authentication != obsAuthToken(m.Password, salt, challenge) {
			return // rejected; client sees the close as a failed attempt
		}
	}
	if err := writeObs(conn, obsOpIdentified, map[string]any{"negotiatedRpcVersion": 1}); err != nil {
		return
	}

	for {
		if err := readObs(conn, &env); err != nil {
			return
		}
		if env.Op != obsOpRequest {
			continue
		}
		var req ObsRequest
		if err := json.Unmarshal(env.D, &req); err != nil {
			continue
		}
		m.mu.Lock()
		m.Requests = append(m.Requests, req)
		handler := m.Handlers[req.RequestType]
		m.mu.Unlock()

		var data any
		ok := true
		if handler != nil {
			data, ok = handler(req)
		}
		resp := map[string]any{
			"requestType": req.RequestType,
			"requestId":   req.RequestID,
			"requestStatus": map[string]any{
				"result": ok,
				"code":   map[bool]int{true: 100, false: 604}[ok],
			},
		}
		if data != nil {
			resp["responseData"] = data
		}
		if err := writeObs(conn, obsOpResponse, resp); err != nil {
			return
		}
	}
}

// ConnectCount returns how many upgrades the server accepted.
func (m *MockObsServer) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connects
}

// RequestTypes returns the request types received so far, in order.
func (m *MockObsServer) RequestTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.Requests))
	for i, r := range m.Requests {
		types[i] = r.RequestType
	}
	return types
}

func writeObs(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(obsEnvelope{Op: op, D: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func readObs(conn *websocket.Conn, into *obsEnvelope) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

func obsAuthToken(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64 := base64.StdEncoding.EncodeToString(secret[:])
	proof := sha256.Sum256([]byte(b64 + challenge))
	return base64.StdEncoding.EncodeToString(proof[:])
}
