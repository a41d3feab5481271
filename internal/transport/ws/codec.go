package ws

import (
	"fmt"

	"github.com/google/uuid"

	"deathchest.gg/internal/lifecycle"
	"deathchest.gg/internal/protocol"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/world"
)

func toPlayer(p protocol.Player) (world.Player, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return world.Player{}, fmt.Errorf("player id: %w", err)
	}
	return world.Player{
		ID:          id,
		Name:        p.Name,
		Creative:    p.Creative,
		Permissions: p.Permissions,
		Location: world.Location{
			World: p.Location.World,
			X:     p.Location.X,
			Y:     p.Location.Y,
			Z:     p.Location.Z,
			Yaw:   p.Location.Yaw,
		},
	}, nil
}

func toVec(a [3]int) world.Vec3i { return world.Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// toStacks keeps the nil/empty distinction: nil means "not sent".
func toStacks(in []protocol.ItemStack) []item.Stack {
	if in == nil {
		return nil
	}
	out := make([]item.Stack, 0, len(in))
	for _, s := range in {
		out = append(out, item.Stack{Type: s.Type, Meta: s.Meta, Count: s.Count, MaxStack: s.MaxStack})
	}
	return out
}

func fromStacks(in []item.Stack) []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, len(in))
	for _, s := range in {
		out = append(out, protocol.ItemStack{Type: s.Type, Meta: s.Meta, Count: s.Count, MaxStack: s.MaxStack})
	}
	return out
}

func toBlock(b protocol.Block) (world.BlockState, error) {
	st := world.BlockState{Type: b.Type, Lines: b.Lines}
	if b.Facing != "" {
		f, ok := world.ParseFacing(b.Facing)
		if !ok {
			return st, fmt.Errorf("bad facing %q", b.Facing)
		}
		st.Facing = f
	}
	if b.Half != "" {
		h, ok := world.ParseChestHalf(b.Half)
		if !ok {
			return st, fmt.Errorf("bad half %q", b.Half)
		}
		st.Half = h
	}
	return st, nil
}

func accessResult(d lifecycle.Decision) *protocol.AccessResult {
	return &protocol.AccessResult{
		Outcome:          d.Outcome.String(),
		Reason:           string(d.Reason),
		Provider:         d.Provider,
		Viewer:           d.Viewer,
		RemainingSeconds: int64(d.Remaining.Seconds()),
	}
}
