package engine

import (
	"errors"
	"io/fs"
	"log"
	"path/filepath"

	"deathchest.gg/internal/protection"
	"deathchest.gg/internal/protection/claims"
	"deathchest.gg/internal/protection/luaprov"
	"deathchest.gg/internal/sim/tuning"
)

// buildProviders turns the configured provider list into arbitrator
// candidates, in configuration order. A provider whose backing file is
// missing or broken is skipped with a warning.
func buildProviders(cfgs []tuning.ProviderConfig, configDir string, logger *log.Logger) ([]protection.Candidate, map[string]protection.Flags, []func()) {
	var (
		cands   []protection.Candidate
		flags   = map[string]protection.Flags{}
		closers []func()
	)
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		path := pc.Path
		if path != "" && !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}

		var cand protection.Candidate
		switch pc.Kind {
		case "claims":
			reg, err := claims.Load(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					logger.Printf("protection provider %s not installed (%s)", pc.Name, path)
				} else {
					logger.Printf("warn: protection provider %s: %v", pc.Name, err)
				}
				continue
			}
			cand = protection.Candidate{Provider: reg, Probe: func() bool { return reg.Len() > 0 }}
		case "lua":
			if !luaprov.Probe(path) {
				logger.Printf("protection provider %s not installed (%s)", pc.Name, path)
				continue
			}
			p, err := luaprov.Open(pc.Name, path)
			if err != nil {
				logger.Printf("warn: protection provider %s: %v", pc.Name, err)
				continue
			}
			closers = append(closers, p.Close)
			cand = protection.Candidate{Provider: p, Probe: func() bool { return luaprov.Probe(path) }}
		default:
			continue
		}
		flags[cand.Provider.Name()] = protection.Flags{
			IgnoreOnPlace:  pc.IgnoreOnPlace,
			IgnoreOnAccess: pc.IgnoreOnAccess,
		}
		cands = append(cands, cand)
	}
	return cands, flags, closers
}
