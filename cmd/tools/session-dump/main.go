// Command session-dump lists recorded sessions or exports one as CSV in the
// analysis spreadsheet layout.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/refgaze-data/refgaze/internal/record"
)

var (
	dbPath    = flag.String("db", "refgaze.db", "session database path")
	sessionID = flag.String("session", "", "session to export; empty lists sessions")
	outPath   = flag.String("out", "", "output CSV path; empty writes to stdout")
)

func main() {
	flag.Parse()

	store, err := record.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open session database: %v", err)
	}
	defer store.Close()

	if *sessionID == "" {
		listSessions(store)
		return
	}

	entries, err := store.ReadEntries(*sessionID)
	if err != nil {
		log.Fatalf("failed to read session %s: %v", *sessionID, err)
	}
	if len(entries) == 0 {
		log.Fatalf("session %s has no entries", *sessionID)
	}

	out := os.Stdout
	if *outPath != "" {
		out, err = os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create output file: %v", err)
		}
		defer out.Close()
	}
	if err := record.WriteCSV(out, entries); err != nil {
		log.Fatalf("failed to write CSV: %v", err)
	}
	if *outPath != "" {
		log.Printf("wrote %d entries to %s", len(entries), *outPath)
	}
}

func listSessions(store *record.Store) {
	sessions, err := store.Sessions()
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) == 0 {
		fmt.Println("no recorded sessions")
		return
	}
	for _, s := range sessions {
		started := time.Unix(0, s.StartedAt).Format(time.RFC3339)
		fmt.Printf("%s  %s  %dx%d  %d entries  %s\n", s.ID, started, s.ReferenceW, s.ReferenceH, s.Entries, s.Notes)
	}
}
