package media

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/kontext-voice/pkg/audioio"
	"github.com/teslashibe/kontext-voice/pkg/signaling"
)

type fixture struct {
	devices *audioio.Manager
	sink    *audioio.MockSink
	peers   *MockPeerFactory
	mgr     *Manager
}

func newFixture(t *testing.T, sig Signaler) *fixture {
	t.Helper()

	cfg := audioio.DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond
	devices, err := audioio.NewDeviceManager(cfg, nil)
	if err != nil {
		t.Fatalf("NewDeviceManager: %v", err)
	}
	sink := audioio.NewMockSink(cfg, nil)
	sink.Start(context.Background())

	peers := &MockPeerFactory{}
	mgr, err := NewManager(Config{
		Devices:  devices,
		Sink:     sink,
		Signaler: sig,
		NewPeer:  peers.New,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Disconnect)
	return &fixture{devices: devices, sink: sink, peers: peers, mgr: mgr}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewManager_RequiresDeps(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrMissingDevices) {
		t.Errorf("expected ErrMissingDevices, got %v", err)
	}
	devices, _ := audioio.NewDeviceManager(audioio.DefaultConfig(), nil)
	if _, err := NewManager(Config{Devices: devices}); !errors.Is(err, ErrMissingSignaler) {
		t.Errorf("expected ErrMissingSignaler, got %v", err)
	}
}

func TestManager_ConnectAndDisconnect(t *testing.T) {
	f := newFixture(t, StaticSignaler("v=0 answer", nil))

	var opened int
	f.mgr.OnOpen(func() { opened++ })

	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if f.mgr.State() != StateConnected {
		t.Errorf("expected connected, got %s", f.mgr.State())
	}
	if f.devices.Active() != 1 {
		t.Errorf("expected microphone held, got %d handles", f.devices.Active())
	}

	peer := f.peers.Last()
	if peer.Answer() != "v=0 answer" {
		t.Errorf("answer not applied: %q", peer.Answer())
	}
	if peer.Channel().Label != DefaultDataChannelLabel {
		t.Errorf("unexpected channel label %q", peer.Channel().Label)
	}

	// Second Connect while connected is a no-op.
	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if f.peers.Count() != 1 {
		t.Errorf("expected one peer, got %d", f.peers.Count())
	}

	if err := f.mgr.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("send before open: expected ErrChannelNotOpen, got %v", err)
	}

	peer.Channel().Open()
	if opened != 1 {
		t.Errorf("expected open callback once, got %d", opened)
	}
	if err := f.mgr.Send(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent := peer.Channel().Sent(); len(sent) != 1 || sent[0] != `{"type":"ping"}` {
		t.Errorf("unexpected sent messages: %v", sent)
	}

	waitFor(t, "captured audio", func() bool { return peer.Writes() > 0 })

	f.mgr.Disconnect()
	f.mgr.Disconnect()

	if f.mgr.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", f.mgr.State())
	}
	if f.devices.Active() != 0 {
		t.Errorf("microphone still held after disconnect")
	}
	if f.devices.Releases() != 1 {
		t.Errorf("expected one release, got %d", f.devices.Releases())
	}
	if peer.Closes() != 1 || !peer.Channel().Closed() {
		t.Errorf("transport not closed once: closes=%d", peer.Closes())
	}
	if err := f.mgr.Send(map[string]string{"type": "ping"}); !errors.Is(err, ErrChannelNotOpen) {
		t.Errorf("send after disconnect: expected ErrChannelNotOpen, got %v", err)
	}
}

func TestManager_ConnectFailures(t *testing.T) {
	tests := []struct {
		name    string
		sig     Signaler
		peerErr error
		check   func(error) bool
	}{
		{
			name:  "signaling rejected",
			sig:   StaticSignaler("", &signaling.SignalingError{StatusCode: 401, Body: "bad key"}),
			check: signaling.IsSignalingError,
		},
		{
			name:  "signaling timeout",
			sig:   StaticSignaler("", signaling.ErrTimeout),
			check: IsTransportError,
		},
		{
			name:    "peer creation",
			sig:     StaticSignaler("answer", nil),
			peerErr: errors.New("no ice"),
			check:   IsTransportError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.sig)
			f.peers.Err = tt.peerErr

			err := f.mgr.Connect(context.Background())
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.mgr.State() != StateError {
				t.Errorf("expected error state, got %s", f.mgr.State())
			}
			if f.devices.Active() != 0 {
				t.Errorf("failed connect left the microphone held")
			}
			if p := f.peers.Last(); p != nil && p.Closes() != 1 {
				t.Errorf("peer closed %d times, want 1", p.Closes())
			}

			// A manual retry is allowed after a failure.
			f.peers.Err = nil
			_ = f.mgr.Connect(context.Background())
		})
	}
}

func TestManager_DeviceFailure(t *testing.T) {
	devices := audioio.NewDeviceManagerWithFactory(audioio.DefaultConfig(), func(ctx context.Context, cfg audioio.Config, _ *slog.Logger) (audioio.Source, error) {
		return nil, audioio.ErrPermissionDenied
	}, nil)
	peers := &MockPeerFactory{}
	mgr, _ := NewManager(Config{Devices: devices, Signaler: StaticSignaler("a", nil), NewPeer: peers.New})

	err := mgr.Connect(context.Background())
	if !IsDeviceError(err) || !errors.Is(err, audioio.ErrPermissionDenied) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if peers.Count() != 0 {
		t.Error("no peer should be created without a microphone")
	}
}

func TestManager_DisconnectDuringSignaling(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	sig := SignalerFunc(func(ctx context.Context, offer string) (string, error) {
		close(entered)
		<-release
		return "answer", nil
	})
	f := newFixture(t, sig)

	var wg sync.WaitGroup
	var connectErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		connectErr = f.mgr.Connect(context.Background())
	}()

	<-entered
	f.mgr.Disconnect()
	close(release)
	wg.Wait()

	if !errors.Is(connectErr, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", connectErr)
	}
	if f.mgr.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", f.mgr.State())
	}
	if f.devices.Active() != 0 {
		t.Error("microphone leaked")
	}
}

func TestManager_RemoteStreamReplaced(t *testing.T) {
	f := newFixture(t, StaticSignaler("answer", nil))
	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	peer := f.peers.Last()

	first := NewMockTrack("a")
	second := NewMockTrack("b")
	peer.SimulateTrack(first)
	peer.SimulateTrack(second)

	if first.Stops() != 1 {
		t.Errorf("previous stream should be stopped once, got %d", first.Stops())
	}
	if second.Stops() != 0 {
		t.Errorf("live stream should not be stopped")
	}

	second.Push(audioio.AudioChunk{Samples: []int16{1, 2, 3}, SampleRate: 48000, Channels: 1})
	waitFor(t, "playback", func() bool { return len(f.sink.Chunks()) == 1 })

	f.mgr.SetOutputMuted(true)
	second.Push(audioio.AudioChunk{Samples: []int16{4}, SampleRate: 48000, Channels: 1})
	time.Sleep(30 * time.Millisecond)
	if n := len(f.sink.Chunks()); n != 0 {
		t.Errorf("muted output should not play, got %d chunks", n)
	}

	f.mgr.Disconnect()
	waitFor(t, "stream stop", func() bool { return second.Stops() == 1 })
	if first.Stops() != 1 {
		t.Errorf("stopped stream must not be stopped again, got %d", first.Stops())
	}

	// A track arriving after teardown is rejected.
	late := NewMockTrack("late")
	peer.SimulateTrack(late)
	if late.Stops() != 1 {
		t.Error("late track should be stopped immediately")
	}
}

func TestManager_TransportLost(t *testing.T) {
	f := newFixture(t, StaticSignaler("answer", nil))

	var mu sync.Mutex
	var errs []error
	f.mgr.OnTransportError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	})

	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	peer := f.peers.Last()

	peer.SimulateState(PeerStateDisconnected)
	if f.mgr.State() != StateConnected {
		t.Fatal("transient disconnect should not end the session")
	}

	peer.SimulateState(PeerStateFailed)
	peer.SimulateState(PeerStateClosed)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected one transport error, got %d", len(errs))
	}
	var tErr *TransportError
	if !errors.As(errs[0], &tErr) || tErr.State != PeerStateFailed {
		t.Errorf("unexpected error %v", errs[0])
	}
	if f.mgr.State() != StateError {
		t.Errorf("expected error state, got %s", f.mgr.State())
	}
	if f.devices.Active() != 0 {
		t.Error("microphone still held after transport loss")
	}
	if f.peers.Count() != 1 {
		t.Error("no automatic reconnect expected")
	}
}

func TestManager_ControlMessages(t *testing.T) {
	f := newFixture(t, StaticSignaler("answer", nil))

	var got []map[string]any
	var parseErrs []error
	f.mgr.OnControlMessage(func(m map[string]any) { got = append(got, m) })
	f.mgr.OnParseError(func(err error) { parseErrs = append(parseErrs, err) })

	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := f.peers.Last().Channel()
	ch.Open()

	ch.Receive([]byte(`{"type":"response.done"}`))
	ch.Receive([]byte(`{not json`))
	ch.Receive([]byte(`null`))
	ch.Receive([]byte(`{"type":"input_audio_buffer.speech_started"}`))

	if len(got) != 2 || got[0]["type"] != "response.done" || got[1]["type"] != "input_audio_buffer.speech_started" {
		t.Errorf("unexpected messages: %v", got)
	}
	if len(parseErrs) != 2 {
		t.Fatalf("expected 2 parse errors, got %d", len(parseErrs))
	}
	var pErr *ParseError
	if !errors.As(parseErrs[0], &pErr) || !strings.Contains(pErr.Data, "not json") {
		t.Errorf("unexpected parse error %v", parseErrs[0])
	}
}

func TestManager_MessagesBeforeOpenWait(t *testing.T) {
	f := newFixture(t, StaticSignaler("answer", nil))

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	f.mgr.OnOpen(func() { record("open") })
	f.mgr.OnControlMessage(func(m map[string]any) { record(m["type"].(string)) })

	if err := f.mgr.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ch := f.peers.Last().Channel()

	ch.Receive([]byte(`{"type":"first"}`))
	ch.Receive([]byte(`{"type":"second"}`))
	mu.Lock()
	early := len(order)
	mu.Unlock()
	if early != 0 {
		t.Fatalf("messages delivered before open: %v", order)
	}

	ch.Open()
	ch.Open()
	ch.Receive([]byte(`{"type":"third"}`))

	mu.Lock()
	defer mu.Unlock()
	want := []string{"open", "first", "second", "third"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}
