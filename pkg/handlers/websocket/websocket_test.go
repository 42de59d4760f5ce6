package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rpcommon "github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/handlers/common"
	"github.com/labring/testreport/pkg/store"
)

type fixture struct {
	store   *store.Store
	handler *WebSocketHandler
	url     string
	launch  string
	items   []string
}

func newFixture(t *testing.T, config *WebSocketConfig) *fixture {
	t.Helper()

	s := store.New()
	launch := s.StartLaunch("demo", &rpcommon.StartLaunchRQ{Name: "stream"})
	suite, err := s.StartItem("", &rpcommon.StartTestItemRQ{LaunchID: launch.ID, Name: "suite", Type: rpcommon.ItemTypeSuite})
	require.NoError(t, err)
	test, err := s.StartItem(suite.ID, &rpcommon.StartTestItemRQ{LaunchID: launch.ID, Name: "test", Type: rpcommon.ItemTypeTest})
	require.NoError(t, err)

	handler := NewWebSocketHandler(s, config)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		handler.Close()
		server.Close()
	})

	return &fixture{
		store:   s,
		handler: handler,
		url:     "ws" + strings.TrimPrefix(server.URL, "http"),
		launch:  launch.ID,
		items:   []string{suite.ID, test.ID},
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) log(t *testing.T, itemID string, level rpcommon.LogLevel, message string) {
	t.Helper()
	results := f.store.SaveLogs([]*rpcommon.SaveLogRQ{{ItemID: itemID, Level: level, Message: message}}, nil)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].ID)
}

func send(t *testing.T, conn *websocket.Conn, req common.SubscriptionRequest) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func readMap(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func readLog(t *testing.T, conn *websocket.Conn) common.LogMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg common.LogMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "log", msg.Type)
	require.NotNil(t, msg.Log)
	return msg
}

func TestWebSocketHandler_Connection(t *testing.T) {
	f := newFixture(t, nil)

	conn := f.dial(t)
	assert.Eventually(t, func() bool { return f.handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketHandler_MessageErrors(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	testCases := []struct {
		name    string
		payload string
		code    string
	}{
		{"invalid JSON", `{not json`, "INVALID_FORMAT"},
		{"unknown action", `{"action":"ping"}`, "UNKNOWN_ACTION"},
		{"missing target", `{"action":"subscribe","type":"item"}`, "SUBSCRIBE_FAILED"},
		{"unknown item", `{"action":"subscribe","type":"item","targetId":"nope"}`, "SUBSCRIBE_FAILED"},
		{"unsupported type", `{"action":"subscribe","type":"process","targetId":"1"}`, "SUBSCRIBE_FAILED"},
		{"unsubscribe unknown", `{"action":"unsubscribe","type":"item","targetId":"nope"}`, "UNSUBSCRIBE_FAILED"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tc.payload)))
			response := readMap(t, conn)
			assert.Equal(t, tc.code, response["code"])
			assert.NotEmpty(t, response["error"])
		})
	}
}

func TestWebSocketHandler_SubscribeWithHistory(t *testing.T) {
	f := newFixture(t, nil)
	test := f.items[1]
	f.log(t, test, rpcommon.LevelInfo, "one")
	f.log(t, test, rpcommon.LevelInfo, "two")
	f.log(t, test, rpcommon.LevelInfo, "three")

	conn := f.dial(t)
	send(t, conn, common.SubscriptionRequest{
		Action:   "subscribe",
		Type:     common.TargetItem,
		TargetID: test,
		Options:  common.SubscriptionOptions{Tail: 2},
	})

	confirmation := readMap(t, conn)
	assert.Equal(t, "subscribed", confirmation["action"])
	assert.Equal(t, test, confirmation["targetId"])
	assert.Equal(t, float64(2), confirmation["extra"].(map[string]any)["history"])

	first := readLog(t, conn)
	second := readLog(t, conn)
	assert.True(t, first.IsHistory)
	assert.Equal(t, "two", first.Log.Message)
	assert.Equal(t, "three", second.Log.Message)

	f.log(t, test, rpcommon.LevelInfo, "four")
	live := readLog(t, conn)
	assert.False(t, live.IsHistory)
	assert.Equal(t, "four", live.Log.Message)
	assert.Equal(t, common.TargetItem, live.DataType)
	assert.Greater(t, live.Log.Sequence, second.Log.Sequence)
}

func TestWebSocketHandler_LevelFilter(t *testing.T) {
	f := newFixture(t, nil)
	test := f.items[1]

	conn := f.dial(t)
	send(t, conn, common.SubscriptionRequest{
		Action:   "subscribe",
		Type:     common.TargetItem,
		TargetID: test,
		Options:  common.SubscriptionOptions{Levels: []string{"error"}},
	})
	confirmation := readMap(t, conn)
	assert.Equal(t, map[string]any{"error": true}, confirmation["levels"])

	f.log(t, test, rpcommon.LevelInfo, "ignored")
	f.log(t, test, rpcommon.LevelError, "kept")

	msg := readLog(t, conn)
	assert.Equal(t, "kept", msg.Log.Message)
	assert.Equal(t, rpcommon.LevelError, msg.Log.Level)
}

func TestWebSocketHandler_LaunchSubscription(t *testing.T) {
	f := newFixture(t, nil)
	f.log(t, f.items[0], rpcommon.LevelInfo, "before")

	conn := f.dial(t)
	send(t, conn, common.SubscriptionRequest{Action: "subscribe", Type: common.TargetLaunch, TargetID: f.launch})
	assert.Equal(t, "subscribed", readMap(t, conn)["action"])

	f.log(t, f.items[0], rpcommon.LevelInfo, "suite log")
	f.log(t, f.items[1], rpcommon.LevelWarn, "test log")

	first := readLog(t, conn)
	second := readLog(t, conn)
	assert.Equal(t, "suite log", first.Log.Message)
	assert.Equal(t, "test log", second.Log.Message)
	assert.Equal(t, f.launch, second.TargetID)
	assert.Equal(t, f.items[1], second.Log.ItemID)
}

func TestWebSocketHandler_ListAndUnsubscribe(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)

	sub := common.SubscriptionRequest{Action: "subscribe", Type: common.TargetItem, TargetID: f.items[0]}
	send(t, conn, sub)
	assert.Equal(t, "subscribed", readMap(t, conn)["action"])

	send(t, conn, sub)
	assert.Equal(t, "SUBSCRIBE_FAILED", readMap(t, conn)["code"])

	send(t, conn, common.SubscriptionRequest{Action: "list"})
	list := readMap(t, conn)
	assert.Equal(t, "list", list["type"])
	require.Len(t, list["subscriptions"], 1)

	sub.Action = "unsubscribe"
	send(t, conn, sub)
	assert.Equal(t, "unsubscribed", readMap(t, conn)["action"])

	send(t, conn, common.SubscriptionRequest{Action: "list"})
	assert.Empty(t, readMap(t, conn)["subscriptions"])
}

func TestWebSocketHandler_ClientTimeout(t *testing.T) {
	config := NewDefaultWebSocketConfig()
	config.ReadTimeout = 100 * time.Millisecond
	config.HealthCheckInterval = 50 * time.Millisecond
	f := newFixture(t, config)

	f.dial(t)
	assert.Eventually(t, func() bool { return f.handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.handler.ClientCount() == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestWebSocketHandler_Close(t *testing.T) {
	f := newFixture(t, nil)
	conn := f.dial(t)
	assert.Eventually(t, func() bool { return f.handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	f.handler.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.handler.ClientCount())
}

func TestSubscriptionInfo_Matches(t *testing.T) {
	record := &store.LogRecord{Sequence: 5, ItemID: "i", LaunchID: "l", Level: rpcommon.LevelInfo}

	testCases := []struct {
		name string
		sub  SubscriptionInfo
		want bool
	}{
		{"item", SubscriptionInfo{Type: common.TargetItem, TargetID: "i", Active: true}, true},
		{"other item", SubscriptionInfo{Type: common.TargetItem, TargetID: "x", Active: true}, false},
		{"launch", SubscriptionInfo{Type: common.TargetLaunch, TargetID: "l", Active: true}, true},
		{"inactive", SubscriptionInfo{Type: common.TargetItem, TargetID: "i"}, false},
		{"already replayed", SubscriptionInfo{Type: common.TargetItem, TargetID: "i", Active: true, after: 5}, false},
		{"level mismatch", SubscriptionInfo{Type: common.TargetItem, TargetID: "i", Active: true, Levels: map[string]bool{"error": true}}, false},
		{"level match", SubscriptionInfo{Type: common.TargetItem, TargetID: "i", Active: true, Levels: map[string]bool{"info": true}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sub.matches(record))
		})
	}
}

func TestLogMessage_JSON(t *testing.T) {
	data, err := json.Marshal(common.LogMessage{Type: "log", DataType: common.TargetItem, TargetID: "i", Log: &store.LogRecord{ID: "r"}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dataType":"item"`)
	assert.NotContains(t, string(data), "isHistory")
}
