package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deathchest.gg/internal/protocol"
	"deathchest.gg/internal/sim/engine"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/tuning"
	"deathchest.gg/internal/sim/world"
)

const alice = `{"id":"aaaaaaaa-0000-0000-0000-000000000001","name":"alice","location":{"world":"world","x":100.5,"y":65,"z":100.5}}`
const bob = `{"id":"bbbbbbbb-0000-0000-0000-000000000002","name":"bob","location":{"world":"world","x":101.5,"y":65,"z":100.5}}`

func startServer(t *testing.T) *websocket.Conn {
	t.Helper()
	tu := tuning.Defaults()
	tu.TickDurationMs = 1000
	hub := NewHub(nil)
	eng, err := engine.New(engine.Config{Tuning: tu}, engine.Deps{Notifier: hub, Host: hub})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()

	srv, err := NewServer(eng, hub, nil)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		hs.Close()
		cancel()
		<-done
		_ = eng.Shutdown(context.Background())
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readResult reads frames until the RESULT for id arrives and returns it
// together with the pushed frames seen on the way.
func readResult(t *testing.T, conn *websocket.Conn, id string) (protocol.ResultMsg, []map[string]any) {
	t.Helper()
	var pushed []map[string]any
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, _ := protocol.DecodeBase(b)
		if base.Type != protocol.TypeResult {
			var m map[string]any
			_ = json.Unmarshal(b, &m)
			pushed = append(pushed, m)
			continue
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(b, &res); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		if res.ID == id {
			return res, pushed
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, `{"type":"HELLO","protocol_version":"1.0","host_name":"paper-1"}`)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(b, &w); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	return w
}

func TestServer_HandshakeAndDeath(t *testing.T) {
	conn := startServer(t)
	w := hello(t, conn)
	if w.Type != protocol.TypeWelcome || w.SessionID == "" || w.World != "world" || w.TickMs != 1000 {
		t.Fatalf("welcome = %+v", w)
	}

	send(t, conn, `{"type":"DEATH","protocol_version":"1.0","id":"d1","player":`+alice+`,"drops":[{"type":"DIAMOND","count":4,"max_stack":64}],"killer":{"name":"zombie"}}`)
	res, pushed := readResult(t, conn, "d1")
	if !res.OK || res.Request != protocol.TypeDeath || res.Deploy == nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Deploy.Code != "SUCCESS" || res.Deploy.Stored != 4 || len(res.Deploy.Blocks) != 1 || res.Deploy.Sign == nil {
		t.Fatalf("deploy = %+v", res.Deploy)
	}
	var sawMessage bool
	for _, m := range pushed {
		if m["type"] == protocol.TypeMessage && m["message_id"] == string(notify.MsgDeployed) {
			sawMessage = true
		}
	}
	if !sawMessage {
		t.Fatalf("no deployed message pushed: %v", pushed)
	}

	pos, _ := json.Marshal(res.Deploy.Blocks[0])
	send(t, conn, `{"type":"OPEN","protocol_version":"1.0","id":"o1","player":`+bob+`,"pos":`+string(pos)+`}`)
	open, _ := readResult(t, conn, "o1")
	if !open.OK || !open.Found || open.Access == nil || open.Access.Outcome != "deny" || open.Access.Reason != "PROTECTED" {
		t.Fatalf("stranger open = %+v access=%+v", open, open.Access)
	}

	send(t, conn, `{"type":"QUICK_LOOT","protocol_version":"1.0","id":"q1","player":`+alice+`,"pos":`+string(pos)+`}`)
	loot, _ := readResult(t, conn, "q1")
	if !loot.OK || loot.Access.Outcome != "allow" || len(loot.Items) != 1 || loot.Items[0].Count != 4 {
		t.Fatalf("quick loot = %+v", loot)
	}
}

func TestServer_RejectsBadRequests(t *testing.T) {
	conn := startServer(t)
	hello(t, conn)

	send(t, conn, `{"type":"OPEN","protocol_version":"1.0","id":"b1","player":`+alice+`}`)
	res, _ := readResult(t, conn, "b1")
	if res.OK || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("missing pos: %+v", res)
	}

	send(t, conn, `{"type":"OPEN","protocol_version":"0.1","id":"b2","player":`+alice+`,"pos":[0,65,0]}`)
	res, _ = readResult(t, conn, "b2")
	if res.OK || res.Code != protocol.ErrProtoVersion {
		t.Fatalf("old version: %+v", res)
	}

	send(t, conn, `{"type":"SET_BLOCK","protocol_version":"1.0","id":"b3","pos":[5,65,5],"block":{"type":"STONE","half":"TOP"}}`)
	res, _ = readResult(t, conn, "b3")
	if res.OK || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad half: %+v", res)
	}

	send(t, conn, `{"type":"SET_BLOCK","protocol_version":"1.0","id":"b4","pos":[5,65,5],"block":{"type":"STONE"}}`)
	res, _ = readResult(t, conn, "b4")
	if !res.OK {
		t.Fatalf("set block: %+v", res)
	}
}

func TestServer_HandshakeRejectsWrongVersion(t *testing.T) {
	conn := startServer(t)
	send(t, conn, `{"type":"HELLO","protocol_version":"0.9","host_name":"paper-1"}`)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	h := NewHub(nil)
	out := make(chan []byte, 1)
	h.attach("s1", out)
	h.DropItems("world", world.Vec3i{}, nil)
	h.DropItems("world", world.Vec3i{}, nil)
	if len(out) != 1 {
		t.Fatalf("queued = %d", len(out))
	}
	var m protocol.DropMsg
	if err := json.Unmarshal(<-out, &m); err != nil || m.Type != protocol.TypeDrop || m.World != "world" {
		t.Fatalf("frame = %+v err=%v", m, err)
	}
	h.detach("s1")
	if h.Sessions() != 0 {
		t.Fatalf("sessions = %d", h.Sessions())
	}
}
