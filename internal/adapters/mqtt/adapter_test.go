package mqtt

import (
	"testing"

	"scanbridge/internal/events"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recorder struct{ got []events.ScanEvent }

func (r *recorder) Deliver(ev events.ScanEvent) bool {
	r.got = append(r.got, ev)
	return true
}

type noStatus struct{}

func (noStatus) SetOnline(string, bool) {}

func TestFactoryValidates(t *testing.T) {
	if _, err := NewFactory(Config{})("m", "scans", nil, noStatus{}); err == nil {
		t.Fatal("missing broker accepted")
	}
	if _, err := NewFactory(Config{BrokerURL: "tcp://localhost:1883"})("m", "", nil, noStatus{}); err == nil {
		t.Fatal("missing topic accepted")
	}
}

func TestHandleDecodesPayload(t *testing.T) {
	rec := &recorder{}
	a, err := NewFactory(Config{BrokerURL: "tcp://localhost:1883", QoS: 9})("wh-1", "warehouse/+/scans", rec, noStatus{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	m := a.(*mqttAdapter)
	if m.cfg.QoS != 2 {
		t.Fatalf("qos = %d, want clamped to 2", m.cfg.QoS)
	}

	m.handle(nil, fakeMessage{topic: "warehouse/a/scans", payload: []byte(`{"action":"barcode.data","extras":{"barcode_value":"M-7"}}`)})
	m.handle(nil, fakeMessage{topic: "warehouse/a/scans", payload: []byte(`garbage`)})

	if len(rec.got) != 1 {
		t.Fatalf("delivered %d, want 1", len(rec.got))
	}
	if v, _ := rec.got[0].String("barcode_value"); v != "M-7" || rec.got[0].Source != "wh-1" {
		t.Fatalf("event = %+v", rec.got[0])
	}

	if opts := m.options(); opts.ClientID != "scanbridge-wh-1" {
		t.Fatalf("client id = %q", opts.ClientID)
	}
}
