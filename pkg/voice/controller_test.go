package voice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
	"github.com/teslashibe/kontext-voice/pkg/media"
	"github.com/teslashibe/kontext-voice/pkg/protocol"
	"github.com/teslashibe/kontext-voice/pkg/signaling"
	"github.com/teslashibe/kontext-voice/pkg/tools"
)

type stack struct {
	ctrl    *Controller
	media   *media.Manager
	devices *audioio.Manager
	peers   *media.MockPeerFactory
	images  *tools.ImageState
	edits   atomic.Int32
	metrics *Metrics
}

func newStack(t *testing.T, sig media.Signaler) *stack {
	t.Helper()

	acfg := audioio.DefaultConfig()
	acfg.BufferDuration = 10 * time.Millisecond
	devices, err := audioio.NewDeviceManager(acfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	s := &stack{devices: devices, peers: &media.MockPeerFactory{}, images: tools.NewImageState()}

	s.media, err = media.NewManager(media.Config{
		Devices:  devices,
		Signaler: sig,
		NewPeer:  s.peers.New,
	})
	if err != nil {
		t.Fatal(err)
	}

	editor := tools.EditorFunc(func(ctx context.Context, req tools.EditRequest) (tools.EditResponse, error) {
		s.edits.Add(1)
		return tools.EditResponse{Success: true, ImageURL: "http://img/2.png"}, nil
	})
	reg := tools.NewDefaultRegistry(nil, tools.EditImageConfig{Images: s.images, Editor: editor})

	s.metrics = NewMetrics(prometheus.NewRegistry(), "test")
	s.ctrl, err = NewController(Config{
		Media:        s.media,
		Registry:     reg,
		SuccessDelay: 40 * time.Millisecond,
		ErrorDelay:   60 * time.Millisecond,
		Metrics:      s.metrics,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.ctrl.Disconnect)
	return s
}

func (s *stack) channel() *media.MockChannel {
	return s.peers.Last().Channel()
}

func (s *stack) receive(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	s.channel().Receive(data)
}

func waitStatus(t *testing.T, ctrl *Controller, what string, cond func(Status) bool) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := ctrl.Status(); cond(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, status %+v", what, ctrl.Status())
	return Status{}
}

func answering() media.Signaler { return media.StaticSignaler("v=0 answer", nil) }

func TestNewController_Validates(t *testing.T) {
	if _, err := NewController(Config{}); !errors.Is(err, ErrMissingMedia) {
		t.Errorf("expected ErrMissingMedia, got %v", err)
	}
}

func TestController_SessionLifecycle(t *testing.T) {
	s := newStack(t, answering())
	s.images.Set(tools.Image{URL: "http://img/1.png", Width: 800, Height: 600})

	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()
	if first := <-updates; first.Connection != StateDisconnected {
		t.Fatalf("first snapshot = %+v", first)
	}

	if err := s.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st := s.ctrl.Status()
	if st.Connection != StateConnecting || st.SessionID == "" {
		t.Fatalf("after negotiation, before open: %+v", st)
	}

	// Events before the channel opens must not move the activity.
	s.receive(t, map[string]string{"type": "input_audio_buffer.speech_stopped"})
	time.Sleep(20 * time.Millisecond)
	if a := s.ctrl.Status().Activity; a != protocol.ActivityIdle {
		t.Fatalf("activity changed while not connected: %s", a)
	}

	// The held event is replayed once the session is configured.
	s.channel().Open()
	st = waitStatus(t, s.ctrl, "processing", func(st Status) bool { return st.Activity == protocol.ActivityProcessing })
	if st.Connection != StateConnected {
		t.Fatalf("after open: %+v", st)
	}

	s.receive(t, map[string]string{
		"type":      "response.function_call_arguments.done",
		"name":      tools.EditImageName,
		"call_id":   "c1",
		"arguments": `{"prompt":"add sunset"}`,
	})

	waitStatus(t, s.ctrl, "tool complete", func(st Status) bool { return st.Activity == protocol.ActivityToolComplete })
	waitStatus(t, s.ctrl, "listening", func(st Status) bool { return st.Activity == protocol.ActivityListening })

	sent := s.channel().Sent()
	if !strings.Contains(sent[0], `"session.update"`) {
		t.Errorf("first message should configure the session: %s", sent[0])
	}
	var outputs int
	for _, m := range sent {
		if strings.Contains(m, "function_call_output") {
			outputs++
			if !strings.Contains(m, `"call_id":"c1"`) || !strings.Contains(m, "add sunset") {
				t.Errorf("unexpected output %s", m)
			}
		}
	}
	if outputs != 1 {
		t.Errorf("expected one function_call_output, got %d", outputs)
	}
	if cur, _ := s.images.Current(); cur.URL != "http://img/2.png" {
		t.Errorf("current image not advanced: %s", cur.URL)
	}
	if got := testutil.ToFloat64(s.metrics.ToolCalls.WithLabelValues(tools.EditImageName, "success")); got != 1 {
		t.Errorf("tool_calls success = %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.ActiveSessions); got != 1 {
		t.Errorf("active_sessions = %v", got)
	}

	s.ctrl.Disconnect()
	s.ctrl.Disconnect()

	st = s.ctrl.Status()
	if st.Connection != StateDisconnected || st.Activity != protocol.ActivityIdle || st.Message != MessageDisconnected {
		t.Errorf("after disconnect: %+v", st)
	}
	if s.devices.Active() != 0 || s.devices.Releases() != 1 {
		t.Errorf("device not released exactly once: active=%d releases=%d", s.devices.Active(), s.devices.Releases())
	}
	if got := testutil.ToFloat64(s.metrics.ActiveSessions); got != 0 {
		t.Errorf("active_sessions after disconnect = %v", got)
	}
}

func TestController_DedupIsPerSession(t *testing.T) {
	s := newStack(t, answering())
	s.images.Set(tools.Image{URL: "http://img/1.png"})

	done := map[string]string{
		"type":      "response.function_call_arguments.done",
		"name":      tools.EditImageName,
		"call_id":   "c1",
		"arguments": `{"prompt":"x"}`,
	}

	for session := 1; session <= 2; session++ {
		if err := s.ctrl.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		s.channel().Open()
		s.receive(t, done)
		s.receive(t, done)

		want := int32(session)
		deadline := time.Now().Add(2 * time.Second)
		for s.edits.Load() < want && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		if got := s.edits.Load(); got != want {
			t.Fatalf("session %d: edits = %d, want %d", session, got, want)
		}
		s.ctrl.Disconnect()
	}

	if got := testutil.ToFloat64(s.metrics.DuplicateCalls); got != 2 {
		t.Errorf("duplicate_calls = %v", got)
	}
}

func TestController_SignalingFailure(t *testing.T) {
	s := newStack(t, media.StaticSignaler("", &signaling.SignalingError{StatusCode: 500, Body: "boom"}))

	err := s.ctrl.Connect(context.Background())
	if !signaling.IsSignalingError(err) {
		t.Fatalf("expected SignalingError, got %v", err)
	}

	st := s.ctrl.Status()
	if st.Connection != StateError || st.Activity != protocol.ActivityError || st.Message != MessageConnectionFailed {
		t.Errorf("status = %+v", st)
	}
	if st.Error == "" {
		t.Error("status should carry the error text")
	}
	if s.devices.Active() != 0 {
		t.Error("failed connect left the microphone held")
	}
	if got := testutil.ToFloat64(s.metrics.Connects.WithLabelValues("failure")); got != 1 {
		t.Errorf("connect failures = %v", got)
	}
}

func TestController_TransportLost(t *testing.T) {
	s := newStack(t, answering())
	if err := s.ctrl.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.channel().Open()
	waitStatus(t, s.ctrl, "listening", func(st Status) bool { return st.Activity == protocol.ActivityListening })

	s.peers.Last().SimulateState(media.PeerStateFailed)

	st := s.ctrl.Status()
	if st.Connection != StateError || st.Activity != protocol.ActivityError || st.Message != MessageConnectionLost {
		t.Errorf("status = %+v", st)
	}
	time.Sleep(20 * time.Millisecond)
	if s.peers.Count() != 1 {
		t.Error("controller must not reconnect on its own")
	}

	// Late events from the dead session are ignored.
	s.receive(t, map[string]string{"type": "response.audio.delta"})
	time.Sleep(20 * time.Millisecond)
	if a := s.ctrl.Status().Activity; a != protocol.ActivityError {
		t.Errorf("activity after loss = %s", a)
	}

	if err := s.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("manual reconnect: %v", err)
	}
	if s.peers.Count() != 2 {
		t.Error("manual reconnect should build a new transport")
	}
}

func TestController_SetActive(t *testing.T) {
	s := newStack(t, answering())
	ctx := context.Background()

	if err := s.ctrl.SetActive(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !s.ctrl.Status().Active || s.devices.Active() != 1 {
		t.Fatalf("activation should connect: %+v", s.ctrl.Status())
	}

	if err := s.ctrl.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}
	st := s.ctrl.Status()
	if st.Active || st.Connection != StateDisconnected {
		t.Errorf("deactivation should disconnect: %+v", st)
	}
	if s.devices.Active() != 0 {
		t.Error("microphone held after leaving voice mode")
	}
}

func TestController_ToggleMute(t *testing.T) {
	s := newStack(t, answering())

	s.ctrl.ToggleMute(true)
	if !s.ctrl.Status().MutedOutput || !s.media.OutputMuted() {
		t.Error("mute not applied")
	}
	s.ctrl.ToggleMute(false)
	if s.ctrl.Status().MutedOutput || s.media.OutputMuted() {
		t.Error("unmute not applied")
	}
}

func TestController_SubscribersSeeLatest(t *testing.T) {
	s := newStack(t, answering())
	updates, unsubscribe := s.ctrl.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 3*subscriberBuffer; i++ {
			s.ctrl.ToggleMute(i%2 == 0)
		}
	}()
	wg.Wait()

	var last Status
	for len(updates) > 0 {
		last = <-updates
	}
	if last.MutedOutput != s.ctrl.Status().MutedOutput {
		t.Errorf("latest update %+v does not match status", last)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-updates; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

// gatedSignaler blocks the first exchange until release is closed. Later
// exchanges answer immediately.
func gatedSignaler(entered chan<- struct{}, release <-chan struct{}) media.Signaler {
	var calls atomic.Int32
	return media.SignalerFunc(func(ctx context.Context, offer string) (string, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return "v=0 answer", nil
	})
}

// assertLive checks that the controller, the transport and the microphone
// all agree the session is up.
func (s *stack) assertLive(t *testing.T) {
	t.Helper()
	st := s.ctrl.Status()
	if st.Connection != StateConnected || st.Activity != protocol.ActivityListening {
		t.Errorf("status = %+v", st)
	}
	if s.media.State() != media.StateConnected {
		t.Errorf("media state = %v, controller says %s", s.media.State(), st.Connection)
	}
	if s.devices.Active() != 1 {
		t.Errorf("active devices = %d", s.devices.Active())
	}
	if s.channel().Closed() {
		t.Error("live session channel closed")
	}
	sent := s.channel().Sent()
	if len(sent) == 0 || !strings.Contains(sent[0], `"session.update"`) {
		t.Errorf("live session not configured: %v", sent)
	}
}

func TestController_ReconnectWhileConnecting(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	s := newStack(t, gatedSignaler(entered, release))
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.ctrl.Connect(ctx) }()
	<-entered

	s.ctrl.Disconnect()
	if err := s.ctrl.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	s.channel().Open()
	waitStatus(t, s.ctrl, "listening", func(st Status) bool { return st.Activity == protocol.ActivityListening })

	close(release)
	select {
	case err := <-first:
		if err == nil {
			t.Error("superseded Connect reported success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Connect never returned")
	}

	s.assertLive(t)
	if got := testutil.ToFloat64(s.metrics.ActiveSessions); got != 1 {
		t.Errorf("active_sessions = %v", got)
	}

	s.ctrl.Disconnect()
	if s.devices.Active() != 0 || s.media.State() != media.StateDisconnected {
		t.Errorf("after disconnect: devices=%d media=%v", s.devices.Active(), s.media.State())
	}
}

func TestController_SetActiveToggle(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	s := newStack(t, gatedSignaler(entered, release))
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.ctrl.SetActive(ctx, true) }()
	<-entered

	if err := s.ctrl.SetActive(ctx, false); err != nil {
		t.Fatal(err)
	}
	if st := s.ctrl.Status(); st.Active || st.Connection != StateDisconnected {
		t.Fatalf("deactivated mid-connect: %+v", st)
	}

	for i := 0; i < 3; i++ {
		if err := s.ctrl.SetActive(ctx, true); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		s.channel().Open()
		waitStatus(t, s.ctrl, "listening", func(st Status) bool { return st.Activity == protocol.ActivityListening })
		if i == 0 {
			close(release)
			<-first
		}
		s.assertLive(t)

		if err := s.ctrl.SetActive(ctx, false); err != nil {
			t.Fatal(err)
		}
		st := s.ctrl.Status()
		if st.Connection != StateDisconnected || s.media.State() != media.StateDisconnected || s.devices.Active() != 0 {
			t.Errorf("cycle %d off: status=%+v media=%v devices=%d", i, st, s.media.State(), s.devices.Active())
		}
	}
	if s.devices.Active() != 0 {
		t.Errorf("active devices = %d", s.devices.Active())
	}
}
