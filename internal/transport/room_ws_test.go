package transport

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aviarylabs/voice-console/internal/media"
)

var upgrader = websocket.Upgrader{}

// fakeRoomServer scripts the server side of the envelope protocol
type fakeRoomServer struct {
	t *testing.T

	mu       sync.Mutex
	received []envelope
	authz    string

	conn  *websocket.Conn
	ready chan struct{}
}

func newFakeRoomServer(t *testing.T) (*fakeRoomServer, *httptest.Server) {
	s := &fakeRoomServer{t: t, ready: make(chan struct{})}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authz = r.Header.Get("Authorization")
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		s.conn = conn

		// Expect the join frame, answer with the joined ack
		var join envelope
		if err := conn.ReadJSON(&join); err != nil {
			t.Errorf("Read join failed: %v", err)
			return
		}
		if join.Event != "join" {
			t.Errorf("Expected join event, got %q", join.Event)
		}
		conn.WriteJSON(envelope{
			Event:       "joined",
			Participant: &Participant{Identity: "me", Name: "Console"},
		})
		close(s.ready)

		for {
			var ev envelope
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, ev)
			s.mu.Unlock()
		}
	}))
	return s, server
}

func (s *fakeRoomServer) push(ev envelope) {
	if err := s.conn.WriteJSON(ev); err != nil {
		s.t.Errorf("Server push failed: %v", err)
	}
}

func (s *fakeRoomServer) receivedEvents() []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope, len(s.received))
	copy(out, s.received)
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func TestWSRoom_ConnectRecordsIdentityAndToken(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{})
	if err := room.Connect(context.Background(), ts.URL, "tok-123"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	if got := room.LocalParticipant().Identity; got != "me" {
		t.Errorf("Expected local identity me, got %q", got)
	}
	if !room.IsMicrophoneEnabled() {
		t.Error("Expected microphone enabled after join")
	}

	server.mu.Lock()
	authz := server.authz
	server.mu.Unlock()
	if authz != "Bearer tok-123" {
		t.Errorf("Expected bearer token header, got %q", authz)
	}
}

func TestWSRoom_DispatchesTranscriptionAndData(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	var mu sync.Mutex
	var segments []TranscriptionSegment
	var payloads [][]byte
	var topics []string

	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{
		OnTranscription: func(segs []TranscriptionSegment, from Participant) {
			mu.Lock()
			defer mu.Unlock()
			segments = append(segments, segs...)
		},
		OnDataReceived: func(payload []byte, from Participant, topic string) {
			mu.Lock()
			defer mu.Unlock()
			payloads = append(payloads, payload)
			topics = append(topics, topic)
		},
	})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	<-server.ready
	server.push(envelope{
		Event:       "transcription",
		Participant: &Participant{Identity: "me"},
		Segments:    []TranscriptionSegment{{ID: "s1", Text: "hello", Final: true}},
	})
	server.push(envelope{
		Event:       "data",
		Participant: &Participant{Identity: "agent"},
		Topic:       "chat",
		Payload:     base64.StdEncoding.EncodeToString([]byte(`{"type":"x"}`)),
	})

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(segments) == 1 && len(payloads) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if segments[0].ID != "s1" || !segments[0].Final {
		t.Errorf("Unexpected segment: %+v", segments[0])
	}
	if string(payloads[0]) != `{"type":"x"}` {
		t.Errorf("Unexpected payload: %q", payloads[0])
	}
	if topics[0] != "chat" {
		t.Errorf("Expected topic chat, got %q", topics[0])
	}
}

func TestWSRoom_TrackAndMediaBuffering(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	tracks := make(chan RemoteTrack, 1)
	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{
		OnTrackSubscribed: func(tr RemoteTrack) { tracks <- tr },
	})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	<-server.ready
	server.push(envelope{
		Event:       "track",
		Participant: &Participant{Identity: "agent"},
		Track:       &trackInfo{ID: "t1", Kind: "audio"},
	})

	var track RemoteTrack
	select {
	case track = <-tracks:
	case <-time.After(2 * time.Second):
		t.Fatal("Track subscription not delivered")
	}
	if track.ID() != "t1" || track.Kind() != "audio" {
		t.Errorf("Unexpected track: %s/%s", track.ID(), track.Kind())
	}
	if track.Participant().Identity != "agent" {
		t.Errorf("Expected agent participant, got %q", track.Participant().Identity)
	}

	pcm := []byte{1, 2, 3, 4}
	server.push(envelope{
		Event:   "media",
		Track:   &trackInfo{ID: "t1"},
		Payload: base64.StdEncoding.EncodeToString(pcm),
	})

	src := track.(*wsRemoteTrack)
	buf := make([]byte, 8)
	waitFor(t, 2*time.Second, func() bool {
		return src.ReadPCM(buf) == 4
	})
}

func TestWSRoom_PublishStreamsMediaFrames(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	mic := &media.FakeTrack{TrackID: "mic-1"}
	mic.Feed([]byte{9, 8, 7, 6})
	if err := room.PublishTrack(mic); err != nil {
		t.Fatalf("PublishTrack failed: %v", err)
	}

	var frames []envelope
	waitFor(t, 2*time.Second, func() bool {
		frames = nil
		for _, ev := range server.receivedEvents() {
			if ev.Event == "media" {
				frames = append(frames, ev)
			}
		}
		return len(frames) >= 1
	})

	if frames[0].Track == nil || frames[0].Track.ID != "mic-1" {
		t.Errorf("Expected media frame for mic-1, got %+v", frames[0])
	}
	decoded, err := base64.StdEncoding.DecodeString(frames[0].Payload)
	if err != nil {
		t.Fatalf("Undecodable media payload: %v", err)
	}
	if string(decoded) != string([]byte{9, 8, 7, 6}) {
		t.Errorf("Expected captured PCM in frame, got %v", decoded)
	}

	events := server.receivedEvents()
	if events[0].Event != "publish" || events[0].Track.ID != "mic-1" {
		t.Errorf("Expected publish announcement first, got %+v", events[0])
	}
}

func TestWSRoom_PublishWithholdsFramesWhileMuted(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	if err := room.SetMicrophoneEnabled(false); err != nil {
		t.Fatalf("SetMicrophoneEnabled failed: %v", err)
	}

	mic := &media.FakeTrack{TrackID: "mic-1"}
	mic.Feed([]byte{1, 2, 3, 4})
	if err := room.PublishTrack(mic); err != nil {
		t.Fatalf("PublishTrack failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	for _, ev := range server.receivedEvents() {
		if ev.Event == "media" {
			t.Fatal("Expected no media frames while muted")
		}
	}
}

func TestWSRoom_SendDataAndMicrophone(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer room.Disconnect()

	if err := room.SendData([]byte("hi"), "chat"); err != nil {
		t.Fatalf("SendData failed: %v", err)
	}
	if err := room.SetMicrophoneEnabled(false); err != nil {
		t.Fatalf("SetMicrophoneEnabled failed: %v", err)
	}
	if room.IsMicrophoneEnabled() {
		t.Error("Expected microphone disabled")
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(server.receivedEvents()) >= 2
	})

	events := server.receivedEvents()
	if events[0].Event != "data" || events[0].Topic != "chat" {
		t.Errorf("Unexpected first frame: %+v", events[0])
	}
	decoded, _ := base64.StdEncoding.DecodeString(events[0].Payload)
	if string(decoded) != "hi" {
		t.Errorf("Expected payload hi, got %q", decoded)
	}
	if events[1].Event != "microphone" || events[1].Enabled == nil || *events[1].Enabled {
		t.Errorf("Unexpected microphone frame: %+v", events[1])
	}
}

func TestWSRoom_DisconnectedEventFiresHandlerOnce(t *testing.T) {
	server, ts := newFakeRoomServer(t)
	defer ts.Close()

	reasons := make(chan string, 2)
	room := NewWSRoom(zerolog.Nop())
	room.RegisterHandlers(Handlers{
		OnDisconnected: func(reason string) { reasons <- reason },
	})
	if err := room.Connect(context.Background(), ts.URL, "tok"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	<-server.ready
	server.push(envelope{Event: "disconnected", Reason: "remote hangup"})

	select {
	case reason := <-reasons:
		if reason != "remote hangup" {
			t.Errorf("Expected remote hangup, got %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect handler not fired")
	}

	// The subsequent read error must not fire the handler again
	time.Sleep(50 * time.Millisecond)
	select {
	case reason := <-reasons:
		t.Errorf("Handler fired twice, second reason %q", reason)
	default:
	}

	if err := room.SendData([]byte("x"), "chat"); err == nil {
		t.Error("Expected send to fail after disconnect")
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://room.test/ws", "ws://room.test/ws"},
		{"https://room.test", "wss://room.test"},
		{"wss://room.test", "wss://room.test"},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in)
		if err != nil {
			t.Errorf("websocketURL(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("websocketURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := websocketURL("ftp://room.test"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
	if _, err := websocketURL("://bad"); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Errorf("Expected invalid address error, got %v", err)
	}
}
