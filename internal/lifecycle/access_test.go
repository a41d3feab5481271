package lifecycle

import (
	"context"
	"strings"
	"testing"
	"time"

	"deathchest.gg/internal/perm"
	"deathchest.gg/internal/sim/item"
	"deathchest.gg/internal/sim/notify"
	"deathchest.gg/internal/sim/world"
)

func TestDecide_Precedence(t *testing.T) {
	creativeOwner := owner
	creativeOwner.Creative = true

	cases := []struct {
		name    string
		cfg     func(*Config)
		perms   []string // "player/node"
		viewer  *world.Player
		elapsed time.Duration
		who     world.Player
		want    Outcome
		reason  DenyReason
	}{
		{name: "owner", who: owner, want: Allow},
		{name: "stranger inside window", who: stranger, want: Deny, reason: DenyProtected},
		{name: "stranger after window", who: stranger, elapsed: 6 * time.Minute, want: Allow},
		{name: "protection disabled", cfg: func(c *Config) { c.ProtectionEnabled = false }, who: stranger, want: Allow},
		{name: "no window stays owner only", cfg: func(c *Config) { c.ProtectionWindow = 0 }, who: stranger, elapsed: time.Hour, want: Deny, reason: DenyNotOwner},
		{name: "loot other", perms: []string{"bob/" + perm.LootOther}, who: stranger, want: Allow},
		{name: "killer without looting", perms: []string{"carol/" + perm.LootKiller}, who: killer, want: Deny, reason: DenyProtected},
		{name: "killer looting", cfg: func(c *Config) { c.KillerLooting = true }, perms: []string{"carol/" + perm.LootKiller}, who: killer, want: Allow},
		{name: "killer looting needs permission", cfg: func(c *Config) { c.KillerLooting = true }, who: killer, want: Deny, reason: DenyProtected},
		{name: "creative owner", who: creativeOwner, want: Deny, reason: DenyCreative},
		{name: "creative access on", cfg: func(c *Config) { c.CreativeAccess = true }, who: creativeOwner, want: Allow},
		{name: "creative bypass", perms: []string{"alice/" + perm.CreativeBypass}, who: creativeOwner, want: Allow},
		{name: "in use beats owner", viewer: &stranger, perms: []string{"bob/" + perm.LootOther}, who: owner, want: Deny, reason: DenyInUse},
		{name: "in use beats creative", viewer: &stranger, perms: []string{"bob/" + perm.LootOther}, who: creativeOwner, want: Deny, reason: DenyInUse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			f := newFixture(cfg)
			for _, p := range tc.perms {
				f.perms[p] = true
			}
			c := f.place(stack("DIAMOND", 1))
			if tc.viewer != nil {
				if r := f.l.Open(*tc.viewer, chestPos()); r.Decision.Outcome != Allow {
					t.Fatalf("viewer could not open: %+v", r.Decision)
				}
			}
			f.clock.Add(tc.elapsed)

			d := f.l.Decide(tc.who, c, chestPos())
			if d.Outcome != tc.want || d.Reason != tc.reason {
				t.Fatalf("got %s/%s want %s/%s", d.Outcome, d.Reason, tc.want, tc.reason)
			}
			if d.Reason == DenyInUse && d.Viewer != stranger.Name {
				t.Fatalf("viewer = %q", d.Viewer)
			}
		})
	}
}

func TestOpen_DeniedProtectedReportsRemaining(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 1))
	f.clock.Add(2 * time.Minute)

	res := f.l.Open(stranger, chestPos())
	if res.Decision.Outcome != Deny || res.Decision.Remaining != 3*time.Minute {
		t.Fatalf("decision = %+v", res.Decision)
	}
	if c.ViewerCount() != 0 {
		t.Fatalf("denied player became a viewer")
	}
	m, ok := f.notes.Last()
	if !ok || m.ID != notify.MsgAccessProtected || m.Player != stranger.ID {
		t.Fatalf("message = %+v", m)
	}
	if m.Params["remaining_seconds"] != "180" || !strings.Contains(m.Params["remaining"], "minute") {
		t.Fatalf("params = %v", m.Params)
	}
}

func TestOpen_NotOwnerMessage(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProtectionWindow = 0
	f := newFixture(cfg)
	f.place(stack("DIAMOND", 1))
	f.l.Open(stranger, chestPos())
	if m, _ := f.notes.Last(); m.ID != notify.MsgAccessNotOwner || m.Params["owner"] != owner.Name {
		t.Fatalf("message = %+v", m)
	}
}

func TestOpen_SamePlayerTwice(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 1))
	f.l.Open(owner, chestPos())
	if r := f.l.Open(owner, chestPos()); r.Decision.Outcome != Allow {
		t.Fatalf("reopen by the same viewer: %+v", r.Decision)
	}
	if c.ViewerCount() != 1 {
		t.Fatalf("viewers = %d", c.ViewerCount())
	}
}

func TestOpen_BySignPosition(t *testing.T) {
	f := newFixture(defaultConfig())
	f.place(stack("DIAMOND", 1))
	if r := f.l.Open(owner, signPos()); !r.Found || r.Decision.Outcome != Allow {
		t.Fatalf("open via sign: %+v", r)
	}
	if r := f.l.Open(owner, world.Vec3i{X: 99, Y: 65, Z: 99}); r.Found {
		t.Fatalf("found a chest where there is none")
	}
}

func TestQuickLoot(t *testing.T) {
	f := newFixture(defaultConfig())
	c := f.place(stack("DIAMOND", 3), stack("STICK", 2))
	ctx := context.Background()

	if res := f.l.QuickLoot(ctx, stranger, chestPos()); res.Decision.Outcome != Deny || len(res.Items) != 0 {
		t.Fatalf("stranger looted a protected chest: %+v", res)
	}
	if c.Destroyed() {
		t.Fatalf("denied loot destroyed the chest")
	}
	res := f.l.QuickLoot(ctx, owner, chestPos())
	if res.Decision.Outcome != Allow || item.Total(res.Items) != 5 {
		t.Fatalf("owner loot: %+v", res)
	}
	if !c.Destroyed() || f.l.Len() != 0 {
		t.Fatalf("looted chest still tracked")
	}
	if f.audit.entries[len(f.audit.entries)-1].Reason != CauseQuickLoot {
		t.Fatalf("audit = %+v", f.audit.entries)
	}
}

func TestBreak_WhileOpenByOther(t *testing.T) {
	f := newFixture(defaultConfig())
	f.place(stack("DIAMOND", 3))
	ctx := context.Background()
	f.l.Open(owner, chestPos())

	f.perms["bob/"+perm.LootOther] = true
	res := f.l.Break(ctx, stranger, chestPos())
	if res.Decision.Reason != DenyInUse || f.l.Len() != 1 {
		t.Fatalf("break while in use: %+v", res)
	}
}
