package web

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"scanbridge/internal/broadcast"
	"scanbridge/internal/config"
	"scanbridge/internal/events"
	"scanbridge/internal/hub"
	"scanbridge/internal/reader"
	"scanbridge/internal/registry"
	"scanbridge/internal/relay"
	"scanbridge/internal/state"
)

type fixture struct {
	srv   *Server
	http  *httptest.Server
	relay *relay.Relay
	disp  *broadcast.Dispatcher
	hub   *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	disp := broadcast.NewDispatcher()
	hb := hub.New()
	rl := relay.New(relay.Options{
		Source:   disp,
		State:    state.NewStore(),
		Notifier: hb,
		Reader:   reader.NewLocal(),
	})
	reg := registry.NewStore()
	reg.Upsert(registry.Source{ID: "dock", Adapter: "udp", DataSource: ":5599", Enabled: true})

	s := New(config.WebConfig{Host: "127.0.0.1", Port: 0, StreamBuffer: 8}, Deps{
		Relay:  rl,
		Reg:    reg,
		Hub:    hb,
		Ingest: disp,
	})
	s.pollTimeout = 2 * time.Second
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		rl.Stop()
		disp.Close()
	})
	return &fixture{srv: s, http: ts, relay: rl, disp: disp, hub: hb}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/v1/scan/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("frame type = %d", typ)
	}
	return string(data)
}

func TestHealthAndTags(t *testing.T) {
	f := newFixture(t)

	f.post(t, "/api/v1/events", `{"action":"barcode.data","extras":{"data":"idle"}}`)
	health := decode[map[string]any](t, f.get(t, "/api/v1/health"))
	if health["status"] != "ok" || health["listening"] != false {
		t.Fatalf("health = %v", health)
	}
	if health["delivered"] != float64(0) || health["dropped"] != float64(1) {
		t.Fatalf("delivery counters = %v / %v", health["delivered"], health["dropped"])
	}

	tags := decode[relay.KnownTags](t, f.get(t, "/api/v1/debug/tags"))
	if tags.RegisteredDataKey != "Decoder_Data" || len(tags.Actions) == 0 {
		t.Fatalf("tags = %+v", tags)
	}

	sources := decode[[]registry.Source](t, f.get(t, "/api/v1/sources"))
	if len(sources) != 1 || sources[0].ID != "dock" {
		t.Fatalf("sources = %+v", sources)
	}
}

func TestSimulateIdle(t *testing.T) {
	f := newFixture(t)

	res := decode[relay.SimulateResult](t, f.post(t, "/api/v1/debug/simulate", `{"data":"X123"}`))
	if res.Data != "X123" || res.Delivered {
		t.Fatalf("simulate = %+v", res)
	}
	info := decode[map[string]any](t, f.get(t, "/api/v1/debug/info"))
	if info["simulatedScan"] != "X123" {
		t.Fatalf("simulatedScan = %v", info["simulatedScan"])
	}

	res = decode[relay.SimulateResult](t, f.post(t, "/api/v1/debug/simulate", ""))
	if !strings.HasPrefix(res.Data, "TEST_BARCODE_") {
		t.Fatalf("placeholder = %q", res.Data)
	}

	if resp := f.post(t, "/api/v1/debug/simulate", "{"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", resp.StatusCode)
	}
}

func TestScanStreamDelivers(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	waitFor(t, "listener", f.relay.Listening)

	resp := f.post(t, "/api/v1/events",
		`{"action":"com.cipherlab.barcodebaseapi.PASS_DATA_2_APP","extras":{"Decoder_Data":"X123","data":"other"}}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	if got := readText(t, conn); got != "X123" {
		t.Fatalf("stream got %q", got)
	}

	res := decode[relay.SimulateResult](t, f.post(t, "/api/v1/debug/simulate", `{"data":"Y456"}`))
	if !res.Delivered {
		t.Fatal("simulate not delivered while listening")
	}
	if got := readText(t, conn); got != "Y456" {
		t.Fatalf("stream got %q", got)
	}

	conn.Close()
	waitFor(t, "relay idle", func() bool { return !f.relay.Listening() })
}

func TestScanStreamReplaced(t *testing.T) {
	f := newFixture(t)
	first := f.dial(t)
	waitFor(t, "first listener", f.relay.Listening)
	f.dial(t)

	var frame struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(readText(t, first)), &frame); err != nil {
		t.Fatalf("error frame: %v", err)
	}
	if frame.Code != relay.CodeListenerReplaced {
		t.Fatalf("code = %q", frame.Code)
	}
	if !f.relay.Listening() {
		t.Fatal("relay idle after replacement")
	}
}

func TestIngestRejectsBadEnvelope(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"", "not json", `{"extras":{}}`, `{"action":1}`} {
		if resp := f.post(t, "/api/v1/events", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, resp.StatusCode)
		}
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.dial(t)
	waitFor(t, "listener", f.relay.Listening)
	f.post(t, "/api/v1/debug/simulate", `{"data":"A"}`)
	f.post(t, "/api/v1/debug/simulate", `{"data":"B"}`)

	hist := decode[[]map[string]any](t, f.get(t, "/api/v1/debug/events?limit=1"))
	if len(hist) != 1 {
		t.Fatalf("history = %v", hist)
	}
	if resp := f.get(t, "/api/v1/debug/events?limit=zero"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestDebugPoll(t *testing.T) {
	f := newFixture(t)

	first := decode[pollResponse](t, f.get(t, "/api/v1/debug/poll"))
	if first.Client == "" || len(first.Notifications) != 0 {
		t.Fatalf("first poll = %+v", first)
	}

	f.post(t, "/api/v1/debug/simulate", `{"data":"P1"}`)

	next := decode[pollResponse](t, f.get(t, "/api/v1/debug/poll?client="+first.Client))
	if len(next.Notifications) == 0 {
		t.Fatal("no notifications")
	}
	if next.Notifications[0].Method != "debugInfoUpdated" {
		t.Fatalf("method = %q", next.Notifications[0].Method)
	}
}

// openDebugStream connects to the SSE endpoint and returns its lines once
// the welcome comment has arrived.
func (f *fixture) openDebugStream(t *testing.T) <-chan string {
	t.Helper()
	resp := f.get(t, "/api/v1/debug/stream")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	br := bufio.NewReader(resp.Body)
	if line, err := br.ReadString('\n'); err != nil || line != ": welcome\n" {
		t.Fatalf("welcome = %q, %v", line, err)
	}
	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			select {
			case lines <- line:
			default:
			}
		}
	}()
	return lines
}

func waitEvent(t *testing.T, lines <-chan string, event string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line == "event: "+event+"\n" {
				return
			}
		case <-timeout:
			t.Fatalf("no %s event", event)
		}
	}
}

func TestDebugStream(t *testing.T) {
	f := newFixture(t)
	lines := f.openDebugStream(t)

	f.post(t, "/api/v1/debug/simulate", `{"data":"S1"}`)
	waitEvent(t, lines, "debugInfoUpdated")
}

func TestDebugStreamSurvivesClientExpiry(t *testing.T) {
	f := newFixture(t)
	lines := f.openDebugStream(t)

	time.Sleep(20 * time.Millisecond)
	if n := f.hub.Expire(time.Millisecond); n != 0 {
		t.Fatalf("expired %d clients with an open stream", n)
	}

	f.dial(t)
	waitFor(t, "listener", f.relay.Listening)
	f.relay.Simulate("X123")
	waitEvent(t, lines, "directDataReceived")
}

func TestHistoryAfter(t *testing.T) {
	f := newFixture(t)
	f.dial(t)
	waitFor(t, "listener", f.relay.Listening)
	f.post(t, "/api/v1/debug/simulate", `{"data":"A"}`)
	time.Sleep(2 * time.Millisecond)
	f.post(t, "/api/v1/debug/simulate", `{"data":"B"}`)

	all := decode[[]events.ScanEvent](t, f.get(t, "/api/v1/debug/events"))
	if len(all) != 2 {
		t.Fatalf("history = %+v", all)
	}
	after := url.QueryEscape(all[0].Time.Format(time.RFC3339Nano))
	newer := decode[[]events.ScanEvent](t, f.get(t, "/api/v1/debug/events?after="+after))
	if len(newer) != 1 {
		t.Fatalf("after first = %+v", newer)
	}
	if v, _ := newer[0].String("Decoder_Data"); v != "B" {
		t.Fatalf("after first = %q", v)
	}
	if resp := f.get(t, "/api/v1/debug/events?after=yesterday"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad after status = %d", resp.StatusCode)
	}
}
