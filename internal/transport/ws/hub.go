package ws

import (
	"encoding/json"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"deathchest.gg/internal/protocol"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

// Hub pushes server-initiated frames (MESSAGE, SOUND, DROP) to every
// connected host session. It is the engine's notifier and item sink.
type Hub struct {
	log *log.Logger

	mu       sync.Mutex
	sessions map[string]chan []byte
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{log: logger, sessions: map[string]chan []byte{}}
}

func (h *Hub) attach(id string, out chan []byte) {
	h.mu.Lock()
	h.sessions[id] = out
	h.mu.Unlock()
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) Message(player uuid.UUID, id notify.MessageID, params map[string]string) {
	h.broadcast(protocol.MessageMsg{
		Type:      protocol.TypeMessage,
		Player:    player.String(),
		MessageID: string(id),
		Params:    params,
	})
}

func (h *Hub) Sound(player uuid.UUID, id notify.SoundID, pos world.Vec3i) {
	h.broadcast(protocol.SoundMsg{
		Type:   protocol.TypeSound,
		Player: player.String(),
		Sound:  string(id),
		Pos:    pos.ToArray(),
	})
}

func (h *Hub) DropItems(worldName string, pos world.Vec3i, items []item.Stack) {
	h.broadcast(protocol.DropMsg{
		Type:  protocol.TypeDrop,
		World: worldName,
		Pos:   pos.ToArray(),
		Items: fromStacks(items),
	})
}

func (h *Hub) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Printf("warn: encode push frame: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, out := range h.sessions {
		select {
		case out <- b:
		default:
			h.log.Printf("warn: session %s outbound queue full; frame dropped", id)
		}
	}
}
