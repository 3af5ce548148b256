// bvhtool is a CLI utility for inspecting the scene index.
package main

import (
	"flag"
	"fmt"
	gomath "math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/hapticore/internal/geometry"
	"github.com/Faultbox/hapticore/internal/proximity"
	"github.com/Faultbox/hapticore/pkg/mesh"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "stats":
		err = cmdStats(args)
	case "nearest":
		err = cmdNearest(args)
	case "ray":
		err = cmdRay(args)
	case "verify":
		err = cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bvhtool - scene index inspector

Usage:
  bvhtool <command> [options]

Commands:
  stats   [mesh options]                 Build the index and print tree shape
  nearest [mesh options] <x> <y> <z>     Print the nearest surface contact
  ray     [mesh options] <origin> <dir>  Print the first surface hit (six numbers)
  verify  [mesh options] [-n N] [-seed S] Compare index queries with brute force

Mesh options:
  -shape cube|sphere|box   (default sphere)
  -size  meters            (default 1)
  -cells resolution        (default 32)
  -leaf  max leaf size     (default 8)

Examples:
  bvhtool stats -shape sphere -cells 64
  bvhtool nearest -shape cube 0 0 2
  bvhtool ray -shape sphere 0 0 2 0 0 -1
  bvhtool verify -n 5000`)
}

type meshFlags struct {
	shape string
	size  float64
	cells int
	leaf  int
}

func (mf *meshFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&mf.shape, "shape", "sphere", "mesh shape")
	fs.Float64Var(&mf.size, "size", 1, "edge length or diameter")
	fs.IntVar(&mf.cells, "cells", 32, "meshing resolution")
	fs.IntVar(&mf.leaf, "leaf", geometry.DefaultMaxLeafTriangles, "max triangles per leaf")
}

func (mf *meshFlags) build() (*mesh.Mesh, *geometry.Index, error) {
	var (
		m   *mesh.Mesh
		err error
	)
	switch mf.shape {
	case "cube":
		m = mesh.Cube(mgl64.Vec3{}, mf.size)
	case "sphere":
		m, err = mesh.Sphere(mf.size/2, mf.cells)
	case "box":
		m, err = mesh.RoundedBox(mgl64.Vec3{mf.size, mf.size, mf.size / 2}, mf.size/10, mf.cells)
	default:
		return nil, nil, fmt.Errorf("unknown shape %q", mf.shape)
	}
	if err != nil {
		return nil, nil, err
	}
	ix, err := geometry.NewIndex(m, geometry.WithMaxLeafTriangles(mf.leaf))
	if err != nil {
		return nil, nil, err
	}
	return m, ix, nil
}

func cmdStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	fs.Parse(args)

	start := time.Now()
	m, ix, err := mf.build()
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	s := ix.Snapshot().Stats()
	b := m.Bounds()
	fmt.Printf("Shape:        %s\n", mf.shape)
	fmt.Printf("Vertices:     %d\n", m.VertexCount())
	fmt.Printf("Triangles:    %d\n", s.Triangles)
	fmt.Printf("Degenerate:   %d\n", s.Degenerate)
	fmt.Printf("Nodes:        %d\n", s.Nodes)
	fmt.Printf("Leaves:       %d\n", s.Leaves)
	fmt.Printf("Depth:        %d\n", s.Depth)
	fmt.Printf("Max leaf:     %d\n", s.MaxLeafSize)
	fmt.Printf("Bounds:       %v .. %v\n", b.Min, b.Max)
	fmt.Printf("Build time:   %v\n", elapsed)
	return nil
}

func cmdNearest(args []string) error {
	fs := flag.NewFlagSet("nearest", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 3 {
		return fmt.Errorf("nearest needs x y z, got %d values", fs.NArg())
	}
	p, err := parseVec(fs.Args())
	if err != nil {
		return err
	}

	m, ix, err := mf.build()
	if err != nil {
		return err
	}
	b := m.Bounds()
	radius := gomath.Sqrt(b.DistanceSq(p)) + b.Size().Len()
	c, ok := proximity.New(ix).Nearest(p, radius)
	if !ok {
		fmt.Println("No surface within reach")
		return nil
	}
	fmt.Printf("Triangle:     %d\n", c.Triangle)
	fmt.Printf("Point:        %v\n", c.Point)
	fmt.Printf("Distance:     %.9f\n", c.Distance)
	fmt.Printf("Normal:       %v\n", c.Normal)
	fmt.Printf("Region:       %s\n", c.Region)
	return nil
}

func cmdRay(args []string) error {
	fs := flag.NewFlagSet("ray", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	fs.Parse(args)

	if fs.NArg() != 6 {
		return fmt.Errorf("ray needs origin and direction, got %d values", fs.NArg())
	}
	origin, err := parseVec(fs.Args()[:3])
	if err != nil {
		return err
	}
	dir, err := parseVec(fs.Args()[3:])
	if err != nil {
		return err
	}

	_, ix, err := mf.build()
	if err != nil {
		return err
	}
	hit, ok := ix.Raycast(geometry.Ray{Origin: origin, Dir: dir}, gomath.Inf(1))
	if !ok {
		fmt.Println("No hit")
		return nil
	}
	fmt.Printf("Triangle:     %d\n", hit.Triangle)
	fmt.Printf("T:            %.9f\n", hit.T)
	fmt.Printf("Point:        %v\n", hit.Point)
	fmt.Printf("Normal:       %v\n", hit.Normal)
	return nil
}

func parseVec(args []string) (mgl64.Vec3, error) {
	var v mgl64.Vec3
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return v, fmt.Errorf("coordinate %d: %w", i, err)
		}
		v[i] = f
	}
	return v, nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var mf meshFlags
	mf.register(fs)
	n := fs.Int("n", 1000, "number of random sample points")
	seed := fs.Int64("seed", 1, "random seed")
	fs.Parse(args)

	m, ix, err := mf.build()
	if err != nil {
		return err
	}
	res := verify(m, ix, *n, *seed)
	fmt.Printf("Samples:      %d\n", res.samples)
	fmt.Printf("Mismatches:   %d\n", res.mismatches)
	fmt.Printf("Max error:    %.3g\n", res.maxErr)
	fmt.Printf("Index time:   %v\n", res.indexTime)
	fmt.Printf("Brute time:   %v\n", res.bruteTime)
	if res.mismatches > 0 {
		return fmt.Errorf("%d samples disagree with brute force", res.mismatches)
	}
	return nil
}

type verifyResult struct {
	samples    int
	mismatches int
	maxErr     float64
	indexTime  time.Duration
	bruteTime  time.Duration
}

// verify samples random points around m and compares the index's nearest
// distance with a full scan.
func verify(m *mesh.Mesh, ix *geometry.Index, n int, seed int64) verifyResult {
	const tol = 1e-7
	rng := rand.New(rand.NewSource(seed))
	q := proximity.New(ix)
	box := m.Bounds().Expand(m.Bounds().Size().Len() / 2)
	reach := box.Size().Len()

	res := verifyResult{samples: n}
	for i := 0; i < n; i++ {
		var p mgl64.Vec3
		for k := 0; k < 3; k++ {
			p[k] = box.Min[k] + rng.Float64()*(box.Max[k]-box.Min[k])
		}

		t0 := time.Now()
		got, ok := q.Nearest(p, reach)
		t1 := time.Now()
		want, _ := proximity.BruteForceNearest(m, p)
		res.indexTime += t1.Sub(t0)
		res.bruteTime += time.Since(t1)

		if !ok {
			res.mismatches++
			continue
		}
		diff := got.Distance - want.Distance
		if diff < 0 {
			diff = -diff
		}
		if diff > res.maxErr {
			res.maxErr = diff
		}
		if diff > tol {
			res.mismatches++
		}
	}
	return res
}
