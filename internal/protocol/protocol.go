// Package protocol defines the JSON messages exchanged with the game host
// over the websocket transport.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	// host -> server
	TypeDeath        = "DEATH"
	TypeOpen         = "OPEN"
	TypeClose        = "CLOSE"
	TypeBreak        = "BREAK"
	TypeQuickLoot    = "QUICK_LOOT"
	TypeExplode      = "EXPLODE"
	TypeSignDetached = "SIGN_DETACHED"
	TypeSetBlock     = "SET_BLOCK"

	// server -> host
	TypeResult  = "RESULT"
	TypeMessage = "MESSAGE"
	TypeSound   = "SOUND"
	TypeDrop    = "DROP"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ID              string `json:"id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
