// Package notify carries message and sound ids to whatever renders them.
// Localization, formatting and playback happen outside this module.
package notify

import (
	"github.com/google/uuid"

	"deathchest.gg/internal/sim/world"
)

type MessageID string

const (
	MsgDeployed        MessageID = "chest.deployed"
	MsgDeployedPartial MessageID = "chest.deployed.partial"
	MsgDeployFailed    MessageID = "chest.deploy.failed"
	MsgExpired         MessageID = "chest.expired"

	MsgAccessProtected MessageID = "access.denied.protected"
	MsgAccessNotOwner  MessageID = "access.denied.not_owner"
	MsgAccessInUse     MessageID = "access.denied.in_use"
	MsgAccessCreative  MessageID = "access.denied.creative"
)

type SoundID string

const (
	SoundDeploy SoundID = "deathchest.deploy"
	SoundOpen   SoundID = "deathchest.open"
	SoundExpire SoundID = "deathchest.expire"
	SoundDenied SoundID = "deathchest.denied"
)

type Notifier interface {
	Message(player uuid.UUID, id MessageID, params map[string]string)
	Sound(player uuid.UUID, id SoundID, pos world.Vec3i)
}

type Discard struct{}

func (Discard) Message(uuid.UUID, MessageID, map[string]string) {}
func (Discard) Sound(uuid.UUID, SoundID, world.Vec3i)           {}

type Message struct {
	Player uuid.UUID
	ID     MessageID
	Params map[string]string
}

type Sound struct {
	Player uuid.UUID
	ID     SoundID
	Pos    world.Vec3i
}

// Recorder keeps everything it is handed. Used by tests and the replay tool.
type Recorder struct {
	Messages []Message
	Sounds   []Sound
}

func (r *Recorder) Message(player uuid.UUID, id MessageID, params map[string]string) {
	r.Messages = append(r.Messages, Message{Player: player, ID: id, Params: params})
}

func (r *Recorder) Sound(player uuid.UUID, id SoundID, pos world.Vec3i) {
	r.Sounds = append(r.Sounds, Sound{Player: player, ID: id, Pos: pos})
}

func (r *Recorder) Last() (Message, bool) {
	if len(r.Messages) == 0 {
		return Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}
