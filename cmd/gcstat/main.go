// Command gcstat reports the current shape of a heap after running a
// scripted allocation workload against it, the way cmd/server/main.go reads
// its tuning from flags and logs what it did. It is a diagnostic/reporting
// tool, not a long-running server: it builds a heap, allocates a
// configurable amount of churn, runs a collection, and prints Stats.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/mna/congc/internal/gc"
)

var (
	flagConfig  = flag.String("config", "", "path to a YAML tuning file (optional; defaults used if empty)")
	flagObjects = flag.Int("objects", 10000, "number of small objects to allocate before collecting")
	flagLarge   = flag.Int("large", 16, "number of large (>2048 byte) blocks to allocate before collecting")
	flagVerbose = flag.Bool("v", false, "log phase transitions during the collection")
	flagFree    = flag.Float64("free-fraction", 0.5, "fraction of allocated objects (small and large) to drop before collecting")
)

func main() {
	flag.Parse()

	cfg := gc.DefaultConfig()
	if *flagConfig != "" {
		loaded, err := gc.LoadConfig(*flagConfig)
		if err != nil {
			log.Fatalf("gcstat: %v", err)
		}
		cfg = loaded
	}
	cfg.Verbose = *flagVerbose

	h, err := gc.New(cfg)
	if err != nil {
		log.Fatalf("gcstat: new heap: %v", err)
	}
	defer h.Close()

	var roots []uintptr
	for i := 0; i < *flagObjects; i++ {
		p, err := h.Malloc(24, 0)
		if err != nil {
			log.Fatalf("gcstat: malloc: %v", err)
		}
		roots = append(roots, p)
	}
	for i := 0; i < *flagLarge; i++ {
		p, err := h.Malloc(4096*3, 0)
		if err != nil {
			log.Fatalf("gcstat: malloc large: %v", err)
		}
		roots = append(roots, p)
	}

	keep := roots[:0]
	for i, p := range roots {
		if float64(i%100)/100 < *flagFree {
			continue
		}
		keep = append(keep, p)
	}
	for _, p := range keep {
		h.AddRoot(p)
	}

	cs, err := h.FullCollect()
	if err != nil {
		log.Fatalf("gcstat: collect: %v", err)
	}
	log.Printf("gcstat: cycle %s reclaimed %d units across %d pools", cs.ID, cs.PagesReclaimed, cs.PoolsVisited)

	st := h.GetStats()
	log.Printf("gcstat: pool=%s used=%s freelist=%s freepages=%d largepages=%d cycles=%d reclaimed=%d",
		humanize.Bytes(st.PoolSize), humanize.Bytes(st.UsedSize), humanize.Bytes(st.FreeListSize),
		st.FreePages, st.LargePages, st.Cycles, st.TotalReclaimed)

	if problems := h.CheckAll(); len(problems) > 0 {
		for _, p := range problems {
			log.Printf("gcstat: check: %s", p)
		}
		os.Exit(1)
	}
}
