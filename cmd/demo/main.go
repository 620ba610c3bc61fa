// Demo runs a small scripted contract net scenario without a config file:
// three machines with overlapping capability tables, five jobs allocated
// sequentially, completions logged as they arrive.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/contract-net/internal/bus"
	"github.com/ChuLiYu/contract-net/internal/supervisor"
	"github.com/ChuLiYu/contract-net/internal/worker"
	"github.com/ChuLiYu/contract-net/pkg/types"
)

func main() {
	b := bus.NewMemoryBus(64)
	b.Start()
	defer b.Stop()

	machines := []worker.Config{
		{ID: "machine-1", Capabilities: types.CapabilityTable{"A": 2 * time.Second, "B": 5 * time.Second}},
		{ID: "machine-2", Capabilities: types.CapabilityTable{"A": 3 * time.Second, "C": 4 * time.Second}},
		{ID: "machine-3", Capabilities: types.CapabilityTable{"B": 4 * time.Second, "C": 6 * time.Second}},
	}

	workers := make([]*worker.Worker, 0, len(machines))
	for _, cfg := range machines {
		w, err := worker.New(cfg, b)
		if err != nil {
			log.Fatalf("failed to create worker: %v", err)
		}
		workers = append(workers, w)
	}

	sup := supervisor.New(b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobs := []types.JobKind{"A", "B", "C", "A", "B"}
	for _, kind := range jobs {
		winner, err := sup.Allocate(ctx, types.NewJob(kind), 3*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted")
				break
			}
			log.Fatalf("allocation failed for kind %s: %v", kind, err)
		}
		if winner == nil {
			fmt.Printf("job %s -> no bids\n", kind)
			continue
		}
		fmt.Printf("job %s -> %s (cost %s)\n", kind, winner.WorkerID, winner.Cost)

		// Pause between rounds so some machines free up again.
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
	}

	// Let the remaining executions finish before shutdown.
	select {
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
	}

	for _, w := range workers {
		if err := w.Stop(5 * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}

	stats := sup.Stats()
	fmt.Printf("\nrounds: %d  no-bid: %d\n", stats.Rounds, stats.NoBidRounds)
	for id, n := range stats.Completions {
		fmt.Printf("  %-12s completed %d job(s)\n", id, n)
	}
}
