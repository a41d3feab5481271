package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/chests.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	chestID := fs.String("chest", "", "chest_id filter (audits)")
	owner := fs.String("owner", "", "owner uuid filter (chests)")
	_ = fs.Parse(args)

	q := "chests"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "chests.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "chests":
		query := `SELECT c.id,c.owner_id,c.owner_name,c.killer_name,c.world,c.created_at,c.expires_at,
			(SELECT COUNT(*) FROM chest_blocks b WHERE b.chest_id=c.id),
			(SELECT MIN(x) FROM chest_blocks b WHERE b.chest_id=c.id),
			(SELECT MIN(y) FROM chest_blocks b WHERE b.chest_id=c.id),
			(SELECT MIN(z) FROM chest_blocks b WHERE b.chest_id=c.id)
			FROM chests c`
		var qargs []any
		if o := strings.TrimSpace(*owner); o != "" {
			query += ` WHERE c.owner_id=?`
			qargs = append(qargs, o)
		}
		query += ` ORDER BY c.created_at DESC LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID         string `json:"id"`
				Owner      string `json:"owner"`
				OwnerName  string `json:"owner_name"`
				KillerName string `json:"killer_name,omitempty"`
				World      string `json:"world"`
				CreatedMs  int64  `json:"created_ms"`
				ExpiresMs  int64  `json:"expires_ms,omitempty"`
				Blocks     int    `json:"blocks"`
				X          *int   `json:"x,omitempty"`
				Y          *int   `json:"y,omitempty"`
				Z          *int   `json:"z,omitempty"`
			}
			if err := rows.Scan(&r.ID, &r.Owner, &r.OwnerName, &r.KillerName, &r.World, &r.CreatedMs, &r.ExpiresMs, &r.Blocks, &r.X, &r.Y, &r.Z); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "audits":
		query := `SELECT seq,time,chest_id,action,COALESCE(actor,''),x,y,z,COALESCE(reason,'') FROM audits`
		var qargs []any
		if id := strings.TrimSpace(*chestID); id != "" {
			query += ` WHERE chest_id=?`
			qargs = append(qargs, id)
		}
		query += ` ORDER BY seq DESC LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq     int64  `json:"seq"`
				Time    string `json:"time"`
				ChestID string `json:"chest_id"`
				Action  string `json:"action"`
				Actor   string `json:"actor,omitempty"`
				X       int    `json:"x"`
				Y       int    `json:"y"`
				Z       int    `json:"z"`
				Reason  string `json:"reason,omitempty"`
			}
			if err := rows.Scan(&r.Seq, &r.Time, &r.ChestID, &r.Action, &r.Actor, &r.X, &r.Y, &r.Z, &r.Reason); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want chests|audits)")
		os.Exit(2)
	}
}
