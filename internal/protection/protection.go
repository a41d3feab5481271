// Package protection arbitrates placement and access through an ordered
// chain of land-protection providers.
package protection

import (
	"fmt"
	"io"
	"log"

	"deathchest.gg/internal/metrics"
	"deathchest.gg/internal/sim/world"
)

// Provider is one external protection system. A returned error (or a
// panic) is treated as an allow vote.
type Provider interface {
	Name() string
	AllowPlacement(p world.Player, loc world.Location) (bool, error)
	AllowAccess(p world.Player, loc world.Location) (bool, error)
}

// Candidate is a provider the arbitrator knows how to talk to. Probe
// reports whether the backing system is installed and enabled.
type Candidate struct {
	Provider Provider
	Probe    func() bool
}

type Flags struct {
	IgnoreOnPlace  bool
	IgnoreOnAccess bool
}

type Result struct {
	Allowed  bool
	Provider string
}

var allowed = Result{Allowed: true}

type entry struct {
	p     Provider
	flags Flags
}

type check int

const (
	checkPlace check = iota
	checkAccess
)

// Arbitrator holds the provider chain. The chain is fixed at construction.
type Arbitrator struct {
	chain []entry
	log   *log.Logger
}

// NewArbitrator probes candidates in priority order and registers the ones
// that are present. flags is keyed by provider name.
func NewArbitrator(candidates []Candidate, flags map[string]Flags, logger *log.Logger) *Arbitrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &Arbitrator{log: logger}
	seen := map[string]bool{}
	for _, c := range candidates {
		if c.Provider == nil {
			continue
		}
		name := c.Provider.Name()
		if seen[name] {
			logger.Printf("warn: protection provider %q listed twice; keeping the first", name)
			continue
		}
		if c.Probe != nil && !c.Probe() {
			continue
		}
		seen[name] = true
		a.chain = append(a.chain, entry{p: c.Provider, flags: flags[name]})
		logger.Printf("protection provider registered: %s (ignore_on_place=%t ignore_on_access=%t)",
			name, flags[name].IgnoreOnPlace, flags[name].IgnoreOnAccess)
	}
	return a
}

func (a *Arbitrator) Providers() []string {
	out := make([]string, 0, len(a.chain))
	for _, e := range a.chain {
		out = append(out, e.p.Name())
	}
	return out
}

func (a *Arbitrator) CheckPlacement(p world.Player, loc world.Location) Result {
	return a.run(checkPlace, p, loc)
}

func (a *Arbitrator) CheckAccess(p world.Player, loc world.Location) Result {
	return a.run(checkAccess, p, loc)
}

func (a *Arbitrator) run(kind check, p world.Player, loc world.Location) Result {
	if a == nil {
		return allowed
	}
	for _, e := range a.chain {
		if kind == checkPlace && e.flags.IgnoreOnPlace {
			continue
		}
		if kind == checkAccess && e.flags.IgnoreOnAccess {
			continue
		}
		ok, err := a.vote(e.p, kind, p, loc)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues(e.p.Name()).Inc()
			a.log.Printf("warn: protection provider %s failed at %s: %v (treating as allowed)", e.p.Name(), loc.Block(), err)
			continue
		}
		if !ok {
			return Result{Allowed: false, Provider: e.p.Name()}
		}
	}
	return allowed
}

func (a *Arbitrator) vote(pr Provider, kind check, p world.Player, loc world.Location) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	if kind == checkPlace {
		return pr.AllowPlacement(p, loc)
	}
	return pr.AllowAccess(p, loc)
}
