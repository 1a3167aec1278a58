package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/BaSui01/agenttree/api"
	"github.com/BaSui01/agenttree/testutil"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 EventStreamHandler 测试
// =============================================================================

func newEventServer(t *testing.T, f *requestFixture) *httptest.Server {
	t.Helper()
	NewEventStreamHandler(f.handler, nil, zap.NewNop()).Register(f.mux)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialEvents(t *testing.T, ctx context.Context, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// readUntilClose 读取全部事件，返回事件与关闭码
func readUntilClose(t *testing.T, ctx context.Context, conn *websocket.Conn) ([]agent.Event, websocket.StatusCode) {
	t.Helper()
	var events []agent.Event
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return events, websocket.CloseStatus(err)
		}
		var e agent.Event
		require.NoError(t, json.Unmarshal(data, &e))
		events = append(events, e)
	}
}

func TestEventStream_StreamsUntilRequestFinishes(t *testing.T) {
	g := newGate()
	f := newRequestFixture(t, g.completer(t, "streamed"), nil)
	srv := newEventServer(t, f)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	view := f.create(t, api.CreateRequest{RequestID: "req-ws", Task: "stream me"})

	base := f.orch.Bus().Subscribers()
	conn := dialEvents(t, ctx, srv, "/v1/requests/req-ws/events")
	testutil.AwaitSubscriber(t, f.orch.Bus(), base)

	g.open()
	events, code := readUntilClose(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, code)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, agent.EventCompleted, last.Kind)
	assert.Equal(t, view.RootAgentID, last.AgentID)
	assert.Equal(t, agent.StatusSucceeded, last.Status)
	for i, e := range events {
		assert.Equal(t, "req-ws", e.RequestID)
		if i > 0 {
			assert.Greater(t, e.Seq, events[i-1].Seq)
		}
	}
}

func TestEventStream_KindsFilter(t *testing.T) {
	g := newGate()
	f := newRequestFixture(t, g.completer(t, "filtered"), nil)
	srv := newEventServer(t, f)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	f.create(t, api.CreateRequest{RequestID: "req-kinds", Task: "filter me"})

	base := f.orch.Bus().Subscribers()
	conn := dialEvents(t, ctx, srv, "/v1/requests/req-kinds/events?kinds=agent_completed,%20agent_failed")
	testutil.AwaitSubscriber(t, f.orch.Bus(), base)

	g.open()
	events, code := readUntilClose(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	require.Len(t, events, 1)
	assert.Equal(t, agent.EventCompleted, events[0].Kind)
}

func TestEventStream_FinishedRequestClosesNormally(t *testing.T) {
	g := newGate()
	f := newRequestFixture(t, g.completer(t, "early"), nil)
	srv := newEventServer(t, f)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	f.create(t, api.CreateRequest{RequestID: "req-done", Task: "finish first"})
	g.open()
	f.wait(t, "req-done")

	conn := dialEvents(t, ctx, srv, "/v1/requests/req-done/events")
	events, code := readUntilClose(t, ctx, conn)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	assert.Empty(t, events)
}

func TestEventStream_UnknownRequest(t *testing.T) {
	f := newRequestFixture(t, newGate().completer(t, "unused"), nil)
	srv := newEventServer(t, f)

	resp, err := srv.Client().Get(srv.URL + "/v1/requests/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream_CloseEndsOpenStreams(t *testing.T) {
	g := newGate()
	f := newRequestFixture(t, g.completer(t, "late"), nil)
	t.Cleanup(g.open)
	events := NewEventStreamHandler(f.handler, nil, zap.NewNop())
	events.Register(f.mux)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)
	ctx := testutil.TestContextWithTimeout(t, 5*time.Second)

	f.create(t, api.CreateRequest{RequestID: "req-shutdown", Task: "outlive the server"})

	base := f.orch.Bus().Subscribers()
	conn := dialEvents(t, ctx, srv, "/v1/requests/req-shutdown/events")
	testutil.AwaitSubscriber(t, f.orch.Bus(), base)

	events.Close()
	events.Close()
	_, code := readUntilClose(t, ctx, conn)
	assert.Equal(t, websocket.StatusGoingAway, code)
}
