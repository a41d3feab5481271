package main

import (
	"time"

	"github.com/dustin/go-humanize"

	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/model"
)

type chestView struct {
	ID        string   `json:"id"`
	Owner     string   `json:"owner"`
	OwnerName string   `json:"owner_name"`
	Killer    string   `json:"killer,omitempty"`
	World     string   `json:"world"`
	Blocks    [][3]int `json:"blocks"`
	Sign      *[3]int  `json:"sign,omitempty"`
	State     string   `json:"state"`
	Items     int      `json:"items"`
	Created   string   `json:"created"`
	Expires   string   `json:"expires,omitempty"`
}

func chestViews(chests []*model.DeathChest, now time.Time) []chestView {
	out := make([]chestView, 0, len(chests))
	for _, c := range chests {
		v := chestView{
			ID:        c.ID.String(),
			Owner:     c.OwnerID.String(),
			OwnerName: c.OwnerName,
			Killer:    c.KillerName,
			World:     c.World,
			State:     string(c.State(now)),
			Items:     item.Total(c.Inventory),
			Created:   humanize.RelTime(c.CreatedAt, now, "ago", "from now"),
		}
		for _, b := range c.Blocks {
			v.Blocks = append(v.Blocks, b.Pos.ToArray())
		}
		if c.Sign != nil {
			sp := c.Sign.ToArray()
			v.Sign = &sp
		}
		if !c.ExpiresAt.IsZero() {
			v.Expires = humanize.RelTime(c.ExpiresAt, now, "ago", "from now")
		}
		out = append(out, v)
	}
	return out
}
