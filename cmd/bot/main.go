// Command bot acts as a minimal game host: it reports a death, opens the
// resulting chest as its owner and empties it, logging every frame.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deathchest.gg/internal/protocol"
)

var itemPool = []string{"DIAMOND", "IRON_INGOT", "COBBLESTONE", "BREAD", "TORCH", "OAK_LOG", "ARROW"}

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		worldN = flag.String("world", "world", "world name")
		x      = flag.Float64("x", 100.5, "death x")
		y      = flag.Float64("y", 65, "death y")
		z      = flag.Float64("z", 100.5, "death z")
		stacks = flag.Int("stacks", 8, "number of dropped stacks")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		HostName:        *name + "-host",
		World:           *worldN,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 64},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s world=%s providers=%v chests=%d", welcome.SessionID, welcome.World, welcome.Providers, welcome.Chests)

	player := protocol.Player{
		ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(*name)).String(),
		Name:     *name,
		Location: protocol.Location{World: *worldN, X: *x, Y: *y, Z: *z},
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	drops := make([]protocol.ItemStack, 0, *stacks)
	for i := 0; i < *stacks; i++ {
		drops = append(drops, protocol.ItemStack{Type: itemPool[rng.Intn(len(itemPool))], Count: 1 + rng.Intn(64), MaxStack: 64})
	}

	res := request(conn, logger, protocol.DeathMsg{
		Type: protocol.TypeDeath, ProtocolVersion: protocol.Version, ID: "death-1",
		Player: player, Drops: drops, Killer: &protocol.Killer{Name: "zombie"},
	})
	if res.Deploy == nil || len(res.Deploy.Blocks) == 0 {
		logger.Printf("no chest placed: %+v", res.Deploy)
		return
	}
	pos := res.Deploy.Blocks[0]
	logger.Printf("chest %s at %v (%s, stored=%d)", res.Deploy.ChestID, pos, res.Deploy.Size, res.Deploy.Stored)

	request(conn, logger, protocol.InteractMsg{
		Type: protocol.TypeOpen, ProtocolVersion: protocol.Version, ID: "open-1",
		Player: player, Pos: pos,
	})
	request(conn, logger, protocol.CloseMsg{
		Type: protocol.TypeClose, ProtocolVersion: protocol.Version, ID: "close-1",
		Player: player, Pos: pos, Contents: []protocol.ItemStack{},
	})
}

// request sends v and logs frames until the matching RESULT arrives.
func request(conn *websocket.Conn, logger *log.Logger, v any) protocol.ResultMsg {
	b, _ := json.Marshal(v)
	base, _ := protocol.DecodeBase(b)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Fatalf("send %s: %v", base.Type, err)
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Fatalf("read: %v", err)
		}
		got, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if got.Type != protocol.TypeResult {
			logger.Printf("%s %s", got.Type, msg)
			continue
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(msg, &res); err != nil || res.ID != base.ID {
			continue
		}
		status := "ok"
		if !res.OK {
			status = fmt.Sprintf("%s: %s", res.Code, res.Message)
		}
		logger.Printf("RESULT %s %s", res.Request, status)
		return res
	}
}
