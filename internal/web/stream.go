package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scanbridge/internal/relay"
)

// CodeRegistrationFailed is sent when the relay cannot register for scans.
const CodeRegistrationFailed = "REGISTRATION_FAILED"

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type wsFrame struct {
	typ  int
	data []byte
}

// wsSink is the relay.Sink of one websocket listener. Frames are queued and
// written by writeLoop so the relay never blocks on the network.
type wsSink struct {
	conn *websocket.Conn
	out  chan wsFrame
	mu   sync.Mutex
	done chan struct{}
	// closed after writeLoop returns
	exited chan struct{}
}

func newWSSink(conn *websocket.Conn, size int) *wsSink {
	return &wsSink{
		conn:   conn,
		out:    make(chan wsFrame, size),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (s *wsSink) Push(payload string) error {
	return s.enqueue(wsFrame{typ: websocket.TextMessage, data: []byte(payload)})
}

func (s *wsSink) Error(code, message string) error {
	b, err := json.Marshal(map[string]string{"code": code, "message": message})
	if err != nil {
		return err
	}
	return s.enqueue(wsFrame{typ: websocket.TextMessage, data: b})
}

func (s *wsSink) enqueue(f wsFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return relay.ErrSinkClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	default:
		return relay.ErrSinkFull
	}
}

func (s *wsSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// writeLoop owns all writes on conn. After Close it flushes what is queued,
// sends a close frame and closes the connection.
func (s *wsSink) writeLoop() {
	defer close(s.exited)
	defer s.conn.Close()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case f := <-s.out:
			if err := s.write(f); err != nil {
				s.Close()
				return
			}
		case <-ping.C:
			if err := s.write(wsFrame{typ: websocket.PingMessage}); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			for {
				select {
				case f := <-s.out:
					if err := s.write(f); err != nil {
						return
					}
				default:
					_ = s.write(wsFrame{
						typ:  websocket.CloseMessage,
						data: websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					})
					return
				}
			}
		}
	}
}

func (s *wsSink) write(f wsFrame) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(f.typ, f.data)
}

// handleScanStream is the scan stream: connecting starts the relay with this
// connection as the sink, disconnecting cancels it.
func (s *Server) handleScanStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sink := newWSSink(conn, s.cfg.StreamBuffer)
	go sink.writeLoop()

	if err := s.relay.Start(sink); err != nil {
		_ = sink.Error(CodeRegistrationFailed, err.Error())
		sink.Close()
		<-sink.exited
		return
	}
	s.log.Info("scan listener connected", "remote", r.RemoteAddr)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// inbound frames carry nothing; reading drives pong and close handling
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if s.relay.Cancel(sink) {
		s.log.Info("scan listener disconnected", "remote", r.RemoteAddr)
	}
	sink.Close()
	<-sink.exited
}
