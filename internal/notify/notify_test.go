package notify

import (
	"errors"
	"testing"
)

type collect struct {
	got []Notification
	err error
}

func (c *collect) Notify(n Notification) error {
	c.got = append(c.got, n)
	return c.err
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a, b := &collect{}, &collect{err: boom}
	m := Multi{a, nil, b, Discard{}}

	err := m.Notify(New(MethodDirectDataReceived, ScanData{Data: "X"}))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("fan-out = %d/%d", len(a.got), len(b.got))
	}
	if a.got[0].ID == "" || a.got[0].Method != MethodDirectDataReceived {
		t.Fatalf("notification = %+v", a.got[0])
	}
}

func TestNewKafkaValidates(t *testing.T) {
	if _, err := NewKafka(KafkaConfig{Topic: "t"}); err == nil {
		t.Fatal("empty brokers accepted")
	}
	if _, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Fatal("empty topic accepted")
	}
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "scanbridge-debug"})
	if err != nil {
		t.Fatalf("NewKafka: %v", err)
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
