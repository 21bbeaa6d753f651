package handlers_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/driftpost/driftpost/config"
	"github.com/driftpost/driftpost/handlers"
	"github.com/driftpost/driftpost/heartbeat"
	"github.com/driftpost/driftpost/registry"
	"github.com/driftpost/driftpost/relay"
)

func testConfig() *config.Config {
	return &config.Config{
		WSPath:         "/ws",
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      5 * time.Second,
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
	}
}

// startServer brings up the full gateway on a random loopback port and
// returns the websocket URL. When runMonitor is set the heartbeat monitor
// sweeps at cfg.PingInterval.
func startServer(t *testing.T, cfg *config.Config, runMonitor bool) string {
	t.Helper()

	reg := registry.New()
	svc := relay.New(reg, nil)
	gateway := handlers.NewGateway(cfg, reg, svc)

	if runMonitor {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go heartbeat.New(reg, svc, cfg.PingInterval).Run(ctx)
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(cfg.WSPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(cfg.WSPath, websocket.New(gateway.Handle))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.Shutdown() })

	return fmt.Sprintf("ws://%s%s", ln.Addr().String(), cfg.WSPath)
}

type client struct {
	t    *testing.T
	conn *fws.Conn
}

func dial(t *testing.T, url string) *client {
	t.Helper()
	conn, _, err := fws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(c.t, c.conn.ReadJSON(&m))
	return m
}

func (c *client) expect(eventType string) map[string]any {
	c.t.Helper()
	m := c.read()
	require.Equal(c.t, eventType, m["type"])
	return m
}

// join runs the connect/join handshake and drains its events.
func (c *client) join(name string) string {
	c.t.Helper()
	c.expect("connected")
	c.send(map[string]any{"type": "join", "name": name})
	joined := c.expect("joined")
	id, _ := joined["userId"].(string)
	require.NotEmpty(c.t, id)
	c.expect("online_count")
	return id
}

// waitForCount reads events until an online_count with the wanted value
// arrives, skipping anything else in between.
func (c *client) waitForCount(want int) {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		m := c.read()
		if m["type"] == "online_count" && int(m["count"].(float64)) == want {
			return
		}
	}
	c.t.Fatalf("never observed online_count %d", want)
}

func TestConnectAndJoin(t *testing.T) {
	url := startServer(t, testConfig(), false)
	c := dial(t, url)

	c.expect("connected")
	c.send(map[string]any{"type": "join", "name": "Ada"})

	joined := c.expect("joined")
	require.NotEmpty(t, joined["userId"])
	require.Equal(t, float64(1), joined["onlineCount"])

	count := c.expect("online_count")
	require.Equal(t, float64(1), count["count"])
}

func TestUpgradeRequiredOnPlainRequest(t *testing.T) {
	url := startServer(t, testConfig(), false)
	resp, err := http.Get("http" + url[2:])
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestLetterExchange(t *testing.T) {
	url := startServer(t, testConfig(), false)

	a := dial(t, url)
	a.join("A")
	b := dial(t, url)
	b.join("B")
	a.waitForCount(2)

	a.send(map[string]any{"type": "letter", "content": "hello stranger"})

	received := b.expect("receive_letter")
	letter, ok := received["letter"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "A", letter["senderName"])
	require.Equal(t, "B", letter["recipientName"])
	require.Equal(t, "hello stranger", letter["content"])
	require.NotEmpty(t, letter["id"])
	require.NotEmpty(t, letter["timestamp"])

	confirmed := a.expect("letter_sent")
	sent, ok := confirmed["letter"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "B", sent["recipientName"])
	require.Equal(t, letter["id"], sent["id"])
}

func TestLetterWithNoRecipients(t *testing.T) {
	url := startServer(t, testConfig(), false)
	c := dial(t, url)
	c.join("Lonely")

	c.send(map[string]any{"type": "letter", "content": "anyone?"})

	errEvent := c.expect("error")
	require.Contains(t, errEvent["message"], "No online users")
}

func TestLetterBeforeJoin(t *testing.T) {
	url := startServer(t, testConfig(), false)
	c := dial(t, url)
	c.expect("connected")

	c.send(map[string]any{"type": "letter", "content": "too eager"})
	c.expect("error")
}

func TestMalformedMessagesKeepConnectionUsable(t *testing.T) {
	url := startServer(t, testConfig(), false)

	a := dial(t, url)
	a.join("A")
	b := dial(t, url)
	b.join("B")
	a.waitForCount(2)

	// Each bad frame yields exactly one error event.
	require.NoError(t, a.conn.WriteMessage(fws.TextMessage, []byte("not json")))
	a.expect("error")

	a.send(map[string]any{"type": "teleport"})
	a.expect("error")

	a.send(map[string]any{"type": "join", "name": "A again"})
	a.expect("error")

	a.send(map[string]any{"type": "letter"})
	a.expect("error")

	// The connection survived all of it.
	a.send(map[string]any{"type": "letter", "content": "still here"})
	a.expect("letter_sent")
	b.expect("receive_letter")
}

func TestJoinWithoutNameRejected(t *testing.T) {
	url := startServer(t, testConfig(), false)
	c := dial(t, url)
	c.expect("connected")

	c.send(map[string]any{"type": "join"})
	c.expect("error")

	// Still possible to join properly afterwards.
	c.send(map[string]any{"type": "join", "name": "Ada"})
	c.expect("joined")
}

func TestDisconnectUpdatesCount(t *testing.T) {
	url := startServer(t, testConfig(), false)

	a := dial(t, url)
	a.join("A")
	b := dial(t, url)
	b.join("B")
	a.waitForCount(2)

	require.NoError(t, b.conn.Close())
	a.waitForCount(1)
}

func TestHeartbeatEvictsSilentConnection(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongWait = 5 * time.Second
	url := startServer(t, cfg, true)

	watcher := dial(t, url)
	watcher.join("watcher")

	silent := dial(t, url)
	silent.join("silent")
	watcher.waitForCount(2)

	// The silent client stops reading entirely, so it never answers the
	// server's pings. The monitor evicts it within two sweep cycles and the
	// watcher sees the count drop. The watcher keeps reading, which keeps
	// its own pongs flowing.
	watcher.waitForCount(1)
}
