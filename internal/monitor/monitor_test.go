package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/h264play/internal/codec/memcodec"
	"github.com/lanikai/h264play/internal/media"
)

func dial(t *testing.T, s *Server, flow *media.Flow) (*websocket.Conn, func()) {
	ts := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	// The handler subscribes right after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for flow.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, flow.Subscribers())

	return ws, func() {
		ws.Close()
		ts.Close()
	}
}

func TestEventsBroadcast(t *testing.T) {
	var flow media.Flow
	s := New(":0", &flow)
	ws, closer := dial(t, s, &flow)
	defer closer()

	flow.Write([]byte(`{"type":"state","state":"streaming"}`))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, p, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, `{"type":"state","state":"streaming"}`, string(p))
	assert.Equal(t, 1, s.Clients())
}

func TestEventsFromFeedLoop(t *testing.T) {
	var flow media.Flow
	s := New(":0", &flow)
	ws, closer := dial(t, s, &flow)
	defer closer()

	d := memcodec.New(memcodec.Options{})
	require.NoError(t, d.Configure(media.MimeTypeAVC, 16, 16, nil))
	require.NoError(t, d.Start())

	stream := []byte{0, 0, 1, 0x67, 0, 0, 1, 0x68, 0, 0, 1, 0x65}
	loop := media.NewFeedLoop(media.NewStream("test", stream), d, media.FeedOptions{Pace: -1})
	loop.Events = &flow
	s.SetStats(loop.Stats)
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Wait())

	var types []string
	for {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, p, err := ws.ReadMessage()
		require.NoError(t, err)

		var e media.Event
		require.NoError(t, json.Unmarshal(p, &e))
		types = append(types, e.Type)
		if e.Type == media.EventState && e.State == "terminated" {
			break
		}
	}
	assert.Equal(t, []string{"state", "frame", "render", "frame", "render", "state"}, types)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "terminated", st.State)
	assert.Equal(t, 2, st.Submitted)
	assert.Equal(t, media.ErrScanExhausted.Error(), st.Reason)
}

func TestClientDisconnect(t *testing.T) {
	var flow media.Flow
	s := New(":0", &flow)
	ws, closer := dial(t, s, &flow)
	defer closer()

	// Incoming messages are ignored.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("stop")))
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for flow.Subscribers() > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, flow.Subscribers())
}

func TestStatsWithoutLoop(t *testing.T) {
	s := New(":0", new(media.Flow))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetStats(func() media.Stats { return media.Stats{State: media.Streaming, Frames: 3} })
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var st stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "streaming", st.State)
	assert.Equal(t, 3, st.Frames)
}

func TestShutdownDisconnectsClients(t *testing.T) {
	var flow media.Flow
	s := New(":0", &flow)
	ws, closer := dial(t, s, &flow)
	defer closer()

	require.NoError(t, s.Shutdown(context.Background()))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}
