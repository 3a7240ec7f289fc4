// propctl is the operational CLI for the proposals subsystem: generate
// tokens for manual delivery and run the administrative expiry sweep.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/devmartsuriname/agenko-proposals/pkg/db"
	"github.com/devmartsuriname/agenko-proposals/pkg/token"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/store"
)

const usage = "usage: propctl token new | propctl sweep-expired [--at <rfc3339>]"

func main() {
	if len(os.Args) < 2 {
		fail(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "token":
		runToken(os.Args[2:])
	case "sweep-expired":
		runSweep(os.Args[2:])
	default:
		fail("unknown command")
		os.Exit(2)
	}
}

func runToken(args []string) {
	if len(args) < 1 || args[0] != "new" {
		fail(usage)
		os.Exit(2)
	}
	tok, err := token.NewRecipientToken()
	if err != nil {
		fail("token generation failed: " + err.Error())
		os.Exit(1)
	}
	// The plaintext appears only here; the store ever sees the hash.
	writeSummary(map[string]any{
		"result":     "OK",
		"token":      string(tok),
		"token_hash": token.Hash(tok),
	})
}

func runSweep(args []string) {
	fs := flag.NewFlagSet("sweep-expired", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	at := fs.String("at", "", "sweep reference time, RFC3339 (defaults to now)")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}

	now := time.Now().UTC()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fail("invalid --at: " + err.Error())
			os.Exit(2)
		}
		now = parsed.UTC()
	}

	pool := db.MustConnect()
	defer pool.Close()
	st := store.New(pool)

	swept, err := st.SweepExpired(context.Background(), now)
	if err != nil {
		fail("sweep failed: " + err.Error())
		os.Exit(1)
	}
	writeSummary(map[string]any{
		"result":   "OK",
		"swept":    swept,
		"swept_at": now.Format(time.RFC3339),
	})
}

func writeSummary(v map[string]any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

func fail(msg string) {
	writeSummary(map[string]any{"result": "FAIL", "error": msg})
}
