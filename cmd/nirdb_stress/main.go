// Workload driver that exercises both tree variants side by side. Each index
// stays single-threaded; the parallelism is across independent indices.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"nirdb/pkg/config"
	"nirdb/pkg/geometry"
	"nirdb/pkg/index"
	"nirdb/pkg/nir"
	"nirdb/pkg/rstar"

	"golang.org/x/sync/errgroup"
)

func randomPoint(rng *rand.Rand) geometry.Point {
	var p geometry.Point
	for d := 0; d < geometry.Dimensions; d++ {
		p[d] = rng.Float64() * 1000
	}
	return p
}

// drive runs inserts, oracle-checked searches, and removes against one index.
func drive(idx index.Index, seed int64, n int) error {
	rng := rand.New(rand.NewSource(seed))
	points := make([]geometry.Point, 0, n)
	for i := 0; i < n; i++ {
		p := randomPoint(rng)
		if err := idx.Insert(p); err != nil {
			return fmt.Errorf("%s: insert %v: %w", idx.GetName(), p, err)
		}
		points = append(points, p)
	}
	for _, p := range points {
		got, err := idx.Search(p)
		if err != nil {
			return err
		}
		want, err := idx.ExhaustiveSearch(p)
		if err != nil {
			return err
		}
		if len(got) != len(want) {
			return fmt.Errorf("%s: search %v returned %d points, oracle found %d",
				idx.GetName(), p, len(got), len(want))
		}
	}
	if !idx.Validate() {
		return fmt.Errorf("%s: validation failed", idx.GetName())
	}
	for _, p := range points[:n/2] {
		if err := idx.Remove(p); err != nil {
			return fmt.Errorf("%s: remove %v: %w", idx.GetName(), p, err)
		}
	}
	if !idx.Validate() {
		return fmt.Errorf("%s: validation failed after removals", idx.GetName())
	}
	return idx.Close()
}

func main() {
	var nFlag = flag.Int("n", 2000, "points per index")
	var seedFlag = flag.Int64("seed", 42, "workload seed")
	var dirFlag = flag.String("dir", "data", "directory for backing files")
	var budgetFlag = flag.Int64("budget", config.DefaultMemoryBudget, "buffer pool memory budget in bytes")
	flag.Parse()

	if err := os.MkdirAll(*dirFlag, 0775); err != nil {
		log.Fatal(err)
	}

	nirIdx, err := nir.New(*budgetFlag, filepath.Join(*dirFlag, "stress_nir.db"))
	if err != nil {
		log.Fatal(err)
	}
	rstarIdx, err := rstar.New(*budgetFlag, filepath.Join(*dirFlag, "stress_rstar.db"))
	if err != nil {
		log.Fatal(err)
	}

	var eg errgroup.Group
	eg.Go(func() error { return drive(nirIdx, *seedFlag, *nFlag) })
	eg.Go(func() error { return drive(rstarIdx, *seedFlag, *nFlag) })
	if err := eg.Wait(); err != nil {
		log.Fatal(err)
	}
	fmt.Println("stress workload passed")
}
