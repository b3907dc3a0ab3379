package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"nirdb/pkg/config"
	"nirdb/pkg/geometry"
	"nirdb/pkg/index"
	"nirdb/pkg/nir"
	"nirdb/pkg/repl"
	"nirdb/pkg/rstar"

	"github.com/google/uuid"
)

// Listens for SIGINT or SIGTERM and closes the index.
func setupCloseHandler(idx index.Index) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("closehandler invoked")
		idx.Close()
		os.Exit(0)
	}()
}

// parsePoint reads Dimensions coordinates from the argument fields.
func parsePoint(fields []string) (geometry.Point, error) {
	var p geometry.Point
	if len(fields) < geometry.Dimensions {
		return p, fmt.Errorf("expected %d coordinates", geometry.Dimensions)
	}
	for d := 0; d < geometry.Dimensions; d++ {
		v, err := strconv.ParseFloat(fields[d], 64)
		if err != nil {
			return p, err
		}
		p[d] = v
	}
	return p, nil
}

func formatPoints(points []geometry.Point) string {
	var sb strings.Builder
	for _, p := range points {
		sb.WriteString(p.String())
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("%d point(s)\n", len(points)))
	return sb.String()
}

// indexRepl builds the command set for one open index.
func indexRepl(idx index.Index) *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("insert", func(payload string, _ *repl.REPLConfig) (string, error) {
		p, err := parsePoint(strings.Fields(payload)[1:])
		if err != nil {
			return "", err
		}
		return "", idx.Insert(p)
	}, "Insert a point. usage: insert <coords...>")
	r.AddCommand("remove", func(payload string, _ *repl.REPLConfig) (string, error) {
		p, err := parsePoint(strings.Fields(payload)[1:])
		if err != nil {
			return "", err
		}
		return "", idx.Remove(p)
	}, "Remove a point. usage: remove <coords...>")
	r.AddCommand("search", func(payload string, _ *repl.REPLConfig) (string, error) {
		p, err := parsePoint(strings.Fields(payload)[1:])
		if err != nil {
			return "", err
		}
		results, err := idx.Search(p)
		if err != nil {
			return "", err
		}
		return formatPoints(results), nil
	}, "Search for a point. usage: search <coords...>")
	r.AddCommand("range", func(payload string, _ *repl.REPLConfig) (string, error) {
		fields := strings.Fields(payload)[1:]
		ll, err := parsePoint(fields)
		if err != nil {
			return "", err
		}
		ur, err := parsePoint(fields[geometry.Dimensions:])
		if err != nil {
			return "", err
		}
		results, err := idx.SearchRectangle(geometry.Rectangle{LowerLeft: ll, UpperRight: ur})
		if err != nil {
			return "", err
		}
		return formatPoints(results), nil
	}, "Range query. usage: range <lower coords...> <upper coords...>")
	r.AddCommand("checksum", func(string, *repl.REPLConfig) (string, error) {
		sum, err := idx.Checksum()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d\n", sum), nil
	}, "Print the index checksum. usage: checksum")
	r.AddCommand("validate", func(string, *repl.REPLConfig) (string, error) {
		return fmt.Sprintf("%t\n", idx.Validate()), nil
	}, "Check structural invariants. usage: validate")
	r.AddCommand("checkpoint", func(string, *repl.REPLConfig) (string, error) {
		return "", idx.WriteMetadata()
	}, "Flush pages and rewrite metadata. usage: checkpoint")
	return r
}

func main() {
	var promptFlag = flag.Bool("c", true, "use prompt?")
	var variantFlag = flag.String("variant", "nir", "index variant: [nir,rstar]")
	var dbFlag = flag.String("db", "data/"+config.DBName+".db", "backing file")
	var budgetFlag = flag.Int64("budget", config.DefaultMemoryBudget, "buffer pool memory budget in bytes")
	flag.Parse()

	var idx index.Index
	var err error
	switch *variantFlag {
	case "nir":
		idx, err = nir.New(*budgetFlag, *dbFlag)
	case "rstar":
		idx, err = rstar.New(*budgetFlag, *dbFlag)
	default:
		log.Fatal("unknown index variant: ", *variantFlag)
	}
	if err != nil {
		log.Fatal(err)
	}
	defer idx.Close()
	setupCloseHandler(idx)

	r := indexRepl(idx)
	r.Run(uuid.New(), config.GetPrompt(*promptFlag), os.Stdin, os.Stdout)
}
