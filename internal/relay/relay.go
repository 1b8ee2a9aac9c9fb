// Package relay forwards resolved scan payloads from the broadcast
// dispatcher to the single active stream listener.
//
// The relay is Idle until Start installs a sink and registers it with the
// event source, and Listening until Stop (or Cancel by that sink) undoes
// both. Every transition and every event is recorded in the diagnostics
// state. Delivery is at most once: nothing is retried.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scanbridge/internal/broadcast"
	"scanbridge/internal/events"
	"scanbridge/internal/notify"
	"scanbridge/internal/reader"
	"scanbridge/internal/resolver"
	"scanbridge/internal/state"
)

// Error codes sent to a sink.
const (
	CodeListenerReplaced = "LISTENER_REPLACED"
)

const (
	selfTestPayload = "TEST_BARCODE_123"
	readerTimeout   = 2 * time.Second
)

var (
	ErrNilSink  = errors.New("relay: nil sink")
	ErrNotFound = errors.New("relay: no barcode data found in any known key")
	ErrIdle     = errors.New("relay: no active listener")
)

// Source is where the relay registers for scan notifications.
type Source interface {
	Register(r broadcast.Receiver, f resolver.Filter) error
	Unregister(r broadcast.Receiver) error
}

type Options struct {
	Source   Source
	Keys     resolver.KeySet
	Filter   resolver.Filter
	State    *state.Store
	Notifier notify.Notifier
	Reader   reader.Manager
	History  events.Buffer
	// SelfTest sends a loopback scan right after a listener connects.
	SelfTest bool
	Logger   *slog.Logger
}

type Relay struct {
	mu         sync.Mutex
	src        Source
	keys       resolver.KeySet
	filter     resolver.Filter
	st         *state.Store
	notifier   notify.Notifier
	reader     reader.Manager
	history    events.Buffer
	selfTest   bool
	log        *slog.Logger
	sink       Sink
	registered bool
}

// New builds a relay. Changes to the diagnostics state are published as
// debugInfoUpdated notifications.
func New(o Options) *Relay {
	if o.State == nil {
		o.State = state.NewStore()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Discard{}
	}
	if o.History == nil {
		o.History = events.NewRing(64)
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("service", "relay")
	}
	if len(o.Keys.Keys()) == 0 {
		o.Keys = resolver.NewKeySet(nil)
	}
	if len(o.Filter.Actions) == 0 && !o.Filter.AcceptAny {
		o.Filter = resolver.NewFilter(nil)
	}

	r := &Relay{
		src:      o.Source,
		keys:     o.Keys,
		filter:   o.Filter,
		st:       o.State,
		notifier: o.Notifier,
		reader:   o.Reader,
		history:  o.History,
		selfTest: o.SelfTest,
		log:      o.Logger,
	}

	r.st.OnChange(func(snap map[string]any) {
		if err := r.notifier.Notify(notify.New(notify.MethodDebugInfoUpdated, snap)); err != nil {
			r.log.Warn("debug info notification failed", "error", err)
		}
	})

	if r.reader != nil {
		r.st.Set("readerManagerStatus", "Initialized")
	} else {
		r.st.Set("readerManagerStatus", "Error: "+reader.ErrNotInitialized.Error())
	}
	return r
}

func (r *Relay) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink != nil
}

// Start makes s the active sink and registers for notifications. A sink
// that was already active is told it has been replaced and closed.
func (r *Relay) Start(s Sink) error {
	if s == nil {
		return ErrNilSink
	}

	r.mu.Lock()
	if err := r.registerLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.sink
	r.sink = s
	r.st.SetMany(map[string]any{
		"eventChannelStatus": "Connected",
		state.KeyLastAction:  "start",
	})
	selfTest := r.selfTest
	r.mu.Unlock()

	r.log.Info("listener connected")
	if prev != nil && prev != s {
		r.log.Info("previous listener replaced")
		_ = prev.Error(CodeListenerReplaced, "another listener connected")
		prev.Close()
	}

	if selfTest {
		r.sendSelfTest()
	}
	return nil
}

func (r *Relay) registerLocked() error {
	if r.registered {
		r.st.Set("receiverStatus", "Already Registered")
		return nil
	}
	if r.src == nil {
		return r.registrationFailedLocked(broadcast.ErrUnavailable)
	}

	r.st.Set("scanReceiverCreation", "Creating new receiver")
	err := r.src.Register(r, r.filter)
	if err != nil && !errors.Is(err, broadcast.ErrAlreadyRegistered) {
		return r.registrationFailedLocked(err)
	}
	r.registered = true

	actions := strings.Join(r.filter.Actions, ", ")
	if r.filter.AcceptAny {
		actions += ", " + resolver.Wildcard + " (wildcard)"
	}
	r.st.SetMany(map[string]any{
		"receiverStatus":    "Registered",
		"registeredActions": actions,
	})
	r.log.Debug("receiver registered", "actions", len(r.filter.Actions), "accept_any", r.filter.AcceptAny)
	return nil
}

func (r *Relay) registrationFailedLocked(err error) error {
	r.log.Error("receiver registration failed", "error", err)
	r.st.SetMany(map[string]any{
		"receiverStatus":    "Error",
		state.KeyLastError:  "Receiver registration error: " + err.Error(),
		state.KeyLastAction: "start",
	})
	return fmt.Errorf("relay: register receiver: %w", err)
}

// Stop returns the relay to Idle. It is safe to call at any time and any
// number of times.
func (r *Relay) Stop() {
	r.mu.Lock()
	prev := r.detachLocked()
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

// Cancel stops the relay only if s is still the active sink. It reports
// whether s was active.
func (r *Relay) Cancel(s Sink) bool {
	r.mu.Lock()
	if s == nil || r.sink != s {
		r.mu.Unlock()
		return false
	}
	prev := r.detachLocked()
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return true
}

func (r *Relay) detachLocked() Sink {
	if r.registered {
		if err := r.src.Unregister(r); err != nil && !errors.Is(err, broadcast.ErrNotRegistered) {
			r.log.Warn("unregister failed", "error", err)
			r.st.Set(state.KeyLastError, "Unregister error: "+err.Error())
		} else {
			r.st.Set("receiverStatus", "Unregistered")
		}
		r.registered = false
	}

	prev := r.sink
	r.sink = nil
	kv := map[string]any{state.KeyLastAction: "stop"}
	if prev != nil {
		kv["eventChannelStatus"] = "Disconnected"
		r.log.Info("listener disconnected")
	}
	r.st.SetMany(kv)
	return prev
}

// OnBroadcast implements broadcast.Receiver.
func (r *Relay) OnBroadcast(ev events.ScanEvent) {
	r.OnEvent(ev)
}

// OnEvent resolves the payload of ev and forwards it to the active sink.
func (r *Relay) OnEvent(ev events.ScanEvent) {
	r.handle(ev, nil)
}

// handle reports whether the payload reached the sink. All diagnostics
// written for one event, plus the pairs already in kv, go out as a single
// state update.
func (r *Relay) handle(ev events.ScanEvent, kv map[string]any) bool {
	if kv == nil {
		kv = map[string]any{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.st.SetMany(kv)

	if r.sink == nil {
		r.log.Debug("event dropped, relay idle", "tag", ev.Tag)
		kv[state.KeyLastAction] = "drop"
		kv[state.KeyLastError] = fmt.Errorf("event %q dropped: %w", ev.Tag, ErrIdle).Error()
		return false
	}

	r.history.Push(ev)
	r.recordEvent(ev, kv)

	if ev.Tag == resolver.ActionServiceConnected {
		r.configureReaderLocked(kv)
	}

	key, payload, ok := r.keys.Resolve(ev)
	if !ok {
		r.log.Warn("no barcode data in event", "tag", ev.Tag, "source", ev.Source)
		kv[state.KeyLastAction] = "resolve"
		kv[state.KeyLastError] = ErrNotFound.Error()
		return false
	}
	return r.forwardLocked(ev, key, payload, kv)
}

func (r *Relay) recordEvent(ev events.ScanEvent, kv map[string]any) {
	tag := ev.Tag
	if tag == "" {
		tag = "null"
	}
	kv["lastReceivedAction"] = tag
	kv["lastReceivedTime"] = ev.Time.UnixMilli()
	kv["lastReceivedSource"] = ev.Source
	kv["lastExtras"] = ev.Describe()
	kv["lastEvent"] = eventLabel(ev.Tag)
	for k, v := range ev.Fields {
		s := "null"
		if v != nil {
			s = *v
		}
		kv["lastExtra_"+k] = s
	}
	r.log.Debug("event received", "tag", ev.Tag, "source", ev.Source, "extras", len(ev.Fields))
}

func eventLabel(tag string) string {
	switch tag {
	case resolver.ActionServiceConnected:
		return "ReaderService Connected"
	case resolver.ActionPassToApp:
		return "Scan Data Received (Expected Action)"
	default:
		return "Received Intent (Unknown Action)"
	}
}

func (r *Relay) configureReaderLocked(kv map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), readerTimeout)
	defer cancel()
	if err := reader.DisableKeyboardEmulation(ctx, r.reader); err != nil {
		r.log.Error("reader configuration failed", "error", err)
		kv[state.KeyLastError] = "Reader config error: " + err.Error()
		return
	}
	kv["readerConfig"] = "Keyboard Emulation: None"
}

func (r *Relay) forwardLocked(ev events.ScanEvent, key, payload string, kv map[string]any) bool {
	origin := "Unknown Action"
	if ev.Tag == resolver.ActionPassToApp {
		origin = "Expected Action"
	}
	kv["lastBarcodeData"] = payload
	kv["barcodeSource"] = fmt.Sprintf("%s (Key: %s)", origin, key)
	kv[state.KeyLastAction] = "forward"

	data := notify.ScanData{ScanID: ev.ID.String(), Data: payload}
	if err := r.sink.Push(payload); err != nil {
		r.log.Error("stream push failed", "error", err, "scan_id", data.ScanID)
		kv[state.KeyLastError] = "Stream sink error: " + err.Error()
		kv["dataSentToStream"] = "error"
		kv["streamSinkStatus"] = "Push failed"
		data.Reason = "fallback"
		r.sendDirect(data, "true (after stream failure)", kv)
		return false
	}

	r.log.Info("scan forwarded", "scan_id", data.ScanID, "key", key, "source", ev.Source)
	kv["dataSentToStream"] = "true"
	kv["streamSinkStatus"] = "Active and used"
	data.Reason = "duplicate"
	r.sendDirect(data, "true", kv)
	return true
}

func (r *Relay) sendDirect(data notify.ScanData, status string, kv map[string]any) {
	if err := r.notifier.Notify(notify.New(notify.MethodDirectDataReceived, data)); err != nil {
		r.log.Warn("diagnostics delivery failed", "error", err, "scan_id", data.ScanID)
		return
	}
	kv["debugChannelDataSent"] = status
}

func (r *Relay) sendSelfTest() {
	r.handle(r.syntheticEvent("loopback", selfTestPayload), map[string]any{
		"testIntentSent": "true",
		"testIntentData": selfTestPayload,
	})
}

func (r *Relay) syntheticEvent(source, payload string) events.ScanEvent {
	return events.New(source, resolver.ActionPassToApp, map[string]*string{
		r.keys.Primary(): events.Str(payload),
	})
}

// SimulateResult reports what a simulated scan carried and whether it
// reached the stream.
type SimulateResult struct {
	Data      string `json:"data"`
	Delivered bool   `json:"delivered"`
}

// Simulate injects a synthetic scan. An empty payload is replaced with a
// timestamp-derived placeholder. While Idle only the diagnostics state
// changes.
func (r *Relay) Simulate(payload string) SimulateResult {
	if payload == "" {
		payload = fmt.Sprintf("TEST_BARCODE_%d", time.Now().UnixMilli())
	}
	r.log.Debug("simulating scan", "data", payload)
	delivered := r.handle(r.syntheticEvent("simulate", payload), map[string]any{
		"simulatedScan": payload,
	})
	return SimulateResult{Data: payload, Delivered: delivered}
}

// KnownTags describes what the relay listens for.
type KnownTags struct {
	RegisteredAction  string   `json:"registeredAction"`
	RegisteredDataKey string   `json:"registeredDataKey"`
	Actions           []string `json:"actions"`
	DataKeys          []string `json:"dataKeys"`
	AcceptAny         bool     `json:"acceptAny"`
}

func (r *Relay) KnownTags() KnownTags {
	actions := make([]string, len(r.filter.Actions))
	copy(actions, r.filter.Actions)
	return KnownTags{
		RegisteredAction:  resolver.ActionPassToApp,
		RegisteredDataKey: r.keys.Primary(),
		Actions:           actions,
		DataKeys:          r.keys.Keys(),
		AcceptAny:         r.filter.AcceptAny,
	}
}

func (r *Relay) DebugInfo() map[string]any {
	return r.st.Snapshot()
}

// HistorySince returns up to max of the newest handled events that are
// later than after, oldest first.
func (r *Relay) HistorySince(after time.Time, max int) []events.ScanEvent {
	return r.history.Pull(after, max)
}

// History returns up to max of the most recent events the relay handled.
func (r *Relay) History(max int) []events.ScanEvent {
	return r.history.Last(max)
}
