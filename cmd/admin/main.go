package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	persistlog "deathchest.gg/internal/persistence/log"
	"deathchest.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "chests":
			chestsCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <db|state|chests|snapshot|audit> [flags]")
	os.Exit(2)
}

// snapshotCmd prints the header and chests of a snapshot store file.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("file", "", "snapshot path (default: <data>/chests.snap.zst)")
	headerOnly := fs.Bool("header", false, "print only the header")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" {
		p = filepath.Join(*dataDir, "chests.snap.zst")
	}
	if *headerOnly {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(h)
		return
	}
	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap.Header)
	for _, c := range snap.Chests {
		printJSON(c)
	}
}

// auditCmd scans the compressed audit or death logs.
func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "audit", "log kind: audit | deaths")
	chestID := fs.String("chest", "", "chest_id filter")
	since := fs.Duration("since", 24*time.Hour, "only files from this far back")
	_ = fs.Parse(args)

	if *kind != "audit" && *kind != "deaths" {
		fmt.Fprintln(os.Stderr, "bad -kind:", *kind)
		os.Exit(2)
	}
	files, err := logFiles(filepath.Join(*dataDir, *kind), *kind, time.Now().Add(-*since))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, f := range files {
		err := persistlog.ReadLines(f, func(line []byte) error {
			if *chestID != "" {
				var e struct {
					ChestID string `json:"chest_id"`
				}
				if json.Unmarshal(line, &e) != nil || e.ChestID != *chestID {
					return nil
				}
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", f, err)
			os.Exit(1)
		}
	}
}

// logFiles lists <prefix>-YYYY-MM-DD-HH.jsonl.zst files in dir whose hour
// is not before since, oldest first.
func logFiles(dir, prefix string, since time.Time) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	cutoff := since.UTC().Truncate(time.Hour)
	var out []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".jsonl.zst")
		hour, err := time.Parse("2006-01-02-15", stamp)
		if err != nil || hour.Before(cutoff) {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
