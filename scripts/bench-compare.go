//go:build ignore

// Package main compares two `go test -bench` output files and flags
// regressions.
// Usage: go run scripts/bench-compare.go [-threshold 0.2] <current.txt> <baseline.txt>
//
// A benchmark whose ns/op grew by more than the threshold fails the run.
// Allocations are reported but never fail it; they swing too much between
// machines to gate on.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	threshold  = flag.Float64("threshold", 0.20, "fractional ns/op growth that counts as a regression")
	jsonOutput = flag.Bool("json", false, "emit the report as JSON")
	showAll    = flag.Bool("all", false, "list unchanged benchmarks too")
)

// benchLine matches one result row of `go test -bench` output:
// name, iterations, ns/op, then optional B/op and allocs/op.
var benchLine = regexp.MustCompile(`^(Benchmark\S+)\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

type measurement struct {
	NsPerOp     float64 `json:"ns_per_op"`
	BytesPerOp  int64   `json:"bytes_per_op"`
	AllocsPerOp int64   `json:"allocs_per_op"`
}

type row struct {
	Name     string  `json:"name"`
	Current  float64 `json:"current_ns_per_op"`
	Baseline float64 `json:"baseline_ns_per_op,omitempty"`
	DeltaPct float64 `json:"delta_percent"`
	Verdict  string  `json:"verdict"` // regression | improved | ok | new | gone
}

type report struct {
	Threshold   float64 `json:"threshold_percent"`
	Regressions int     `json:"regressions"`
	Improved    int     `json:"improved"`
	Unchanged   int     `json:"unchanged"`
	Rows        []row   `json:"rows"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <current.txt> <baseline.txt>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	baseline, err := parseFile(flag.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse %s: %v\n", flag.Arg(1), err)
		os.Exit(1)
	}

	rep := build(current, baseline, *threshold)

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(os.Stderr, "encode report: %v\n", err)
			os.Exit(1)
		}
	} else {
		printReport(rep)
	}

	if rep.Regressions > 0 {
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]measurement)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		ns, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		meas := measurement{NsPerOp: ns}
		if m[4] != "" {
			meas.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		if m[5] != "" {
			meas.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}
		out[m[1]] = meas
	}
	return out, sc.Err()
}

func build(current, baseline map[string]measurement, threshold float64) *report {
	rep := &report{Threshold: threshold * 100}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		curr := current[name]
		base, ok := baseline[name]
		if !ok {
			rep.Rows = append(rep.Rows, row{Name: name, Current: curr.NsPerOp, Verdict: "new"})
			continue
		}

		delta := 0.0
		if base.NsPerOp > 0 {
			delta = (curr.NsPerOp - base.NsPerOp) / base.NsPerOp
		}
		r := row{Name: name, Current: curr.NsPerOp, Baseline: base.NsPerOp, DeltaPct: delta * 100}
		switch {
		case delta > threshold:
			r.Verdict = "regression"
			rep.Regressions++
		case delta < -threshold/2:
			r.Verdict = "improved"
			rep.Improved++
		default:
			r.Verdict = "ok"
			rep.Unchanged++
		}
		rep.Rows = append(rep.Rows, r)
	}

	for name, base := range baseline {
		if _, ok := current[name]; !ok {
			rep.Rows = append(rep.Rows, row{Name: name, Baseline: base.NsPerOp, Verdict: "gone"})
		}
	}
	return rep
}

func printReport(rep *report) {
	fmt.Printf("%-56s %14s %14s %9s\n", "benchmark", "current", "baseline", "delta")
	for _, r := range rep.Rows {
		if r.Verdict == "ok" && !*showAll {
			continue
		}
		switch r.Verdict {
		case "new", "gone":
			fmt.Printf("%-56s %14s %14s %9s  %s\n",
				clip(r.Name), fmtNs(r.Current), fmtNs(r.Baseline), "-", r.Verdict)
		default:
			fmt.Printf("%-56s %14s %14s %+8.1f%%  %s\n",
				clip(r.Name), fmtNs(r.Current), fmtNs(r.Baseline), r.DeltaPct, r.Verdict)
		}
	}
	fmt.Printf("\n%d regressions (>%.0f%% slower), %d improved, %d unchanged\n",
		rep.Regressions, rep.Threshold, rep.Improved, rep.Unchanged)
}

func clip(name string) string {
	if len(name) <= 56 {
		return name
	}
	return name[:53] + "..."
}

func fmtNs(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f ns", v)
}
