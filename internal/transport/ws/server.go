package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"deathchest.gg/internal/deploy"
	"deathchest.gg/internal/lifecycle"
	"deathchest.gg/internal/protocol"
	"deathchest.gg/internal/sim/engine"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/world"
)

// Engine is the part of the chest engine the transport drives.
type Engine interface {
	WorldName() string
	TickDuration() time.Duration
	Stats(ctx context.Context) (engine.Stats, error)

	Death(ctx context.Context, d deploy.Death) (engine.DeathResult, error)
	Open(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.OpenResult, error)
	Close(ctx context.Context, p world.Player, pos world.Vec3i, contents []item.Stack) (lifecycle.CloseResult, error)
	Break(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.TakeResult, error)
	QuickLoot(ctx context.Context, p world.Player, pos world.Vec3i) (lifecycle.TakeResult, error)
	Explode(ctx context.Context, positions []world.Vec3i) ([]world.Vec3i, []lifecycle.Drop, error)
	SignDetached(ctx context.Context, pos world.Vec3i) (bool, error)
	SetBlock(ctx context.Context, pos world.Vec3i, st world.BlockState) error
}

type Server struct {
	eng Engine
	hub *Hub
	val *protocol.Validator
	log *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(eng Engine, hub *Hub, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	val, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Server{
		eng: eng,
		hub: hub,
		val: val,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // hosts are trusted backends
		},
	}
	return s, nil
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(r.Context(), conn)
		if sessionID == "" {
			return
		}
		s.hub.attach(sessionID, out)
		defer s.hub.detach(sessionID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handle(ctx, msg)
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("warn: encode result %s: %v", res.ID, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone
		s.log.Printf("host session %s closed", sessionID)
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	if err := s.val.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}
	if hello.World != "" && hello.World != s.eng.WorldName() {
		closeWith(conn, "unknown world")
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}
	out = make(chan []byte, maxQ)

	st, err := s.eng.Stats(ctx)
	if err != nil {
		closeWith(conn, "engine unavailable")
		return "", nil
	}
	sessionID = ulid.Make().String()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		World:           s.eng.WorldName(),
		TickMs:          int(s.eng.TickDuration() / time.Millisecond),
		Providers:       st.Providers,
		Chests:          st.Chests,
	}
	if welcome.Providers == nil {
		welcome.Providers = []string{}
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	s.log.Printf("host %q connected: session=%s", hello.HostName, sessionID)
	return sessionID, out
}

// handle validates one request and runs it against the engine.
func (s *Server) handle(ctx context.Context, msg []byte) protocol.ResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return fail(base, protocol.ErrProtoBadRequest, err.Error())
	}
	if base.ProtocolVersion != protocol.Version {
		return fail(base, protocol.ErrProtoVersion, "bad protocol_version")
	}
	if err := s.val.Validate(base.Type, msg); err != nil {
		return fail(base, protocol.ErrProtoBadRequest, err.Error())
	}
	res, err := s.dispatch(ctx, base, msg)
	if err != nil {
		return fail(base, errorCode(err), err.Error())
	}
	res.Type = protocol.TypeResult
	res.ProtocolVersion = protocol.Version
	res.ID = base.ID
	res.Request = base.Type
	res.OK = true
	return res
}

func (s *Server) dispatch(ctx context.Context, base protocol.BaseMessage, msg []byte) (protocol.ResultMsg, error) {
	var res protocol.ResultMsg
	switch base.Type {
	case protocol.TypeDeath:
		var m protocol.DeathMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		d, err := toDeath(m)
		if err != nil {
			return res, badRequest(err)
		}
		out, err := s.eng.Death(ctx, d)
		if err != nil {
			return res, err
		}
		res.Deploy = deployResult(out)

	case protocol.TypeOpen, protocol.TypeBreak, protocol.TypeQuickLoot:
		var m protocol.InteractMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		p, err := toPlayer(m.Player)
		if err != nil {
			return res, badRequest(err)
		}
		pos := toVec(m.Pos)
		if base.Type == protocol.TypeOpen {
			out, err := s.eng.Open(ctx, p, pos)
			if err != nil {
				return res, err
			}
			res.Found = out.Found
			if out.Found {
				res.Access = accessResult(out.Decision)
				res.Access.ChestID = out.ChestID
				res.Access.Capacity = out.Capacity
				res.Access.Inventory = fromStacks(out.Inventory)
			}
			return res, nil
		}
		take := s.eng.Break
		if base.Type == protocol.TypeQuickLoot {
			take = s.eng.QuickLoot
		}
		out, err := take(ctx, p, pos)
		if err != nil {
			return res, err
		}
		res.Found = out.Found
		if out.Found {
			res.Access = accessResult(out.Decision)
			res.Items = fromStacks(out.Items)
		}

	case protocol.TypeClose:
		var m protocol.CloseMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		p, err := toPlayer(m.Player)
		if err != nil {
			return res, badRequest(err)
		}
		out, err := s.eng.Close(ctx, p, toVec(m.Pos), toStacks(m.Contents))
		if err != nil {
			return res, err
		}
		res.Found, res.Destroyed = out.Found, out.Destroyed
		res.Items = fromStacks(out.Overflow)

	case protocol.TypeExplode:
		var m protocol.ExplodeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		positions := make([]world.Vec3i, 0, len(m.Positions))
		for _, p := range m.Positions {
			positions = append(positions, toVec(p))
		}
		kept, drops, err := s.eng.Explode(ctx, positions)
		if err != nil {
			return res, err
		}
		res.Kept = make([][3]int, 0, len(kept))
		for _, k := range kept {
			res.Kept = append(res.Kept, k.ToArray())
		}
		for _, d := range drops {
			res.Drops = append(res.Drops, protocol.DropMsg{World: d.World, Pos: d.Pos.ToArray(), Items: fromStacks(d.Items)})
		}

	case protocol.TypeSignDetached:
		var m protocol.SignDetachedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		found, err := s.eng.SignDetached(ctx, toVec(m.Pos))
		if err != nil {
			return res, err
		}
		res.Found = found

	case protocol.TypeSetBlock:
		var m protocol.SetBlockMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return res, badRequest(err)
		}
		st, err := toBlock(m.Block)
		if err != nil {
			return res, badRequest(err)
		}
		if err := s.eng.SetBlock(ctx, toVec(m.Pos), st); err != nil {
			return res, err
		}

	default:
		return res, badRequest(errors.New("unsupported request type " + base.Type))
	}
	return res, nil
}

func toDeath(m protocol.DeathMsg) (deploy.Death, error) {
	p, err := toPlayer(m.Player)
	if err != nil {
		return deploy.Death{}, err
	}
	d := deploy.Death{Player: p, Drops: toStacks(m.Drops)}
	if m.Killer != nil {
		d.KillerName = m.Killer.Name
		if m.Killer.ID != "" {
			id, err := uuid.Parse(m.Killer.ID)
			if err != nil {
				return d, err
			}
			d.KillerID = uuid.NullUUID{UUID: id, Valid: true}
		}
	}
	return d, nil
}

func deployResult(out engine.DeathResult) *protocol.DeployResult {
	r := &protocol.DeployResult{
		Skip:      out.Skip,
		Code:      string(out.Code),
		Provider:  out.Provider,
		Remaining: fromStacks(out.Remaining),
	}
	if out.Skip != "" {
		return r
	}
	r.Size = out.Size.String()
	if c := out.Chest; c != nil {
		r.ChestID = c.ID.String()
		for _, b := range c.Blocks {
			r.Blocks = append(r.Blocks, b.Pos.ToArray())
		}
		if c.Sign != nil {
			sp := c.Sign.ToArray()
			r.Sign = &sp
		}
		r.Stored = item.Total(c.Inventory)
	}
	return r
}

func badRequest(err error) error {
	return oops.In("ws").Code(protocol.ErrBadRequest).Wrap(err)
}

func errorCode(err error) string {
	if errors.Is(err, engine.ErrStopped) {
		return protocol.ErrBusy
	}
	if oerr, ok := oops.AsOops(err); ok {
		switch fmt.Sprint(oerr.Code()) {
		case protocol.ErrBadRequest, "CHEST_BLOCK":
			return protocol.ErrBadRequest
		}
	}
	return protocol.ErrInternal
}

func fail(base protocol.BaseMessage, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ID:              base.ID,
		Request:         base.Type,
		OK:              false,
		Code:            code,
		Message:         message,
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
