package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"cad-copilot/backend/internal/extract"
	"cad-copilot/backend/internal/geometry"
	"cad-copilot/backend/internal/sandbox"
	"cad-copilot/backend/pkg/logger"
)

type stats struct {
	Index     int        `json:"index"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	Min       [3]float32 `json:"min"`
	Max       [3]float32 `json:"max"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("evalutil", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 5*time.Second, "Evaluation timeout")
	reply := fs.Bool("reply", false, "Treat the input as a model reply and extract its code block first")
	asJSON := fs.Bool("json", false, "Print statistics as JSON")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: evalutil [flags] <file.js | ->")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	src, err := readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	code := string(src)
	if *reply {
		code, err = extract.Code(code)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	eval := sandbox.New(sandbox.Options{Timeout: *timeout, Logger: logger.Nop()})
	res, err := eval.Evaluate(context.Background(), code)
	if err != nil {
		var evalErr *sandbox.EvalError
		if errors.As(err, &evalErr) {
			fmt.Fprintln(stdout, evalErr.Descriptor.String())
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}

	all := make([]stats, 0, len(res.Geometries))
	for i, g := range res.Geometries {
		all = append(all, measure(i, g))
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(all)
		return 0
	}
	for _, s := range all {
		fmt.Fprintf(stdout, "geometry %d: %d vertices, %d triangles, bounds %v to %v\n",
			s.Index, s.Vertices, s.Triangles, s.Min, s.Max)
	}
	return 0
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func measure(index int, g geometry.Geometry) stats {
	s := stats{Index: index, Vertices: len(g.Vertices) / 3, Triangles: g.TriangleCount()}
	if s.Vertices == 0 {
		return s
	}
	inf := float32(math.Inf(1))
	s.Min = [3]float32{inf, inf, inf}
	s.Max = [3]float32{-inf, -inf, -inf}
	for i := 0; i+2 < len(g.Vertices); i += 3 {
		for axis := 0; axis < 3; axis++ {
			v := g.Vertices[i+axis]
			s.Min[axis] = min(s.Min[axis], v)
			s.Max[axis] = max(s.Max[axis], v)
		}
	}
	return s
}
