// Package luaprov runs a protection provider written as a sandboxed Lua script.
//
// A script defines either or both of
//
//	function allow_placement(player, loc) return true end
//	function allow_access(player, loc) return true end
//
// where player = {id, name, creative} and loc = {world, x, y, z, yaw}.
// A missing function allows everything.
package luaprov

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"deathchest.gg/internal/sim/world"
)

const defaultTimeout = 50 * time.Millisecond

// Base functions that reach the filesystem.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

type Provider struct {
	name    string
	timeout time.Duration

	mu sync.Mutex
	L  *lua.LState
}

// Probe reports whether a script exists at path.
func Probe(path string) bool {
	st, err := os.Stat(filepath.Clean(path))
	return err == nil && !st.IsDir()
}

func Open(name, path string) (*Provider, error) {
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("lua provider %s: %w", name, err)
	}
	return Compile(name, string(code))
}

func Compile(name, code string) (*Provider, error) {
	L, err := newState()
	if err != nil {
		return nil, fmt.Errorf("lua provider %s: %w", name, err)
	}
	if err := L.DoString(code); err != nil {
		L.Close()
		return nil, fmt.Errorf("lua provider %s: load: %w", name, err)
	}
	return &Provider{name: name, timeout: defaultTimeout, L: L}, nil
}

func newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open library %s: %w", lib.name, err)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout = d
	}
}

func (p *Provider) AllowPlacement(pl world.Player, loc world.Location) (bool, error) {
	return p.call("allow_placement", pl, loc)
}

func (p *Provider) AllowAccess(pl world.Player, loc world.Location) (bool, error) {
	return p.call("allow_access", pl, loc)
}

func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L != nil {
		p.L.Close()
		p.L = nil
	}
}

func (p *Provider) call(fn string, pl world.Player, loc world.Location) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.L == nil {
		return true, fmt.Errorf("%s: provider closed", fn)
	}
	L := p.L

	f := L.GetGlobal(fn)
	if f.Type() == lua.LTNil {
		return true, nil
	}
	if f.Type() != lua.LTFunction {
		return true, fmt.Errorf("%s is a %s, not a function", fn, f.Type())
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	L.SetContext(ctx)
	defer L.RemoveContext()

	top := L.GetTop()
	if err := L.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, playerTable(L, pl), locationTable(L, loc)); err != nil {
		L.SetTop(top)
		return true, fmt.Errorf("%s: %w", fn, err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	b, ok := ret.(lua.LBool)
	if !ok {
		return true, fmt.Errorf("%s returned %s, want boolean", fn, ret.Type())
	}
	return bool(b), nil
}

func playerTable(L *lua.LState, pl world.Player) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(pl.ID.String()))
	L.SetField(t, "name", lua.LString(pl.Name))
	L.SetField(t, "creative", lua.LBool(pl.Creative))
	return t
}

func locationTable(L *lua.LState, loc world.Location) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "world", lua.LString(loc.World))
	L.SetField(t, "x", lua.LNumber(loc.X))
	L.SetField(t, "y", lua.LNumber(loc.Y))
	L.SetField(t, "z", lua.LNumber(loc.Z))
	L.SetField(t, "yaw", lua.LNumber(loc.Yaw))
	return t
}
