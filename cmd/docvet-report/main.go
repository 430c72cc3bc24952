// Command docvet-report aggregates the case directories left behind
// by previous runs into a single JSON manifest.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docvet/internal/report"
	"docvet/internal/util"
)

// CaseEntry is one aggregated failure case.
type CaseEntry struct {
	Dir     string             `json:"dir"`
	Block   report.BlockReport `json:"block"`
	Archive string             `json:"archive,omitempty"`
}

// Manifest is the JSON payload written for the whole reports tree.
type Manifest struct {
	GeneratedAt string      `json:"generated_at"`
	Source      string      `json:"source"`
	Cases       []CaseEntry `json:"cases"`
}

func main() {
	input := flag.String("input", "reports", "reports directory to aggregate")
	output := flag.String("output", "", "output file (default <input>/manifest.json)")
	flag.Parse()

	if *output == "" {
		*output = filepath.Join(*input, "manifest.json")
	}
	manifest, err := collect(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregate failed: %v\n", err)
		os.Exit(1)
	}
	if err := writeManifest(*output, manifest); err != nil {
		fmt.Fprintf(os.Stderr, "write manifest: %v\n", err)
		os.Exit(1)
	}
	util.Infof("aggregated %d case(s) into %s", len(manifest.Cases), *output)
}

func collect(input string) (Manifest, error) {
	manifest := Manifest{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Source:      input,
		Cases:       []CaseEntry{},
	}
	entries, err := os.ReadDir(input)
	if err != nil {
		return Manifest{}, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "case_") {
			continue
		}
		dir := filepath.Join(input, entry.Name())
		blk, err := readSummary(filepath.Join(dir, "summary.json"))
		if err != nil {
			util.Warnf("skip %s: %v", dir, err)
			continue
		}
		ce := CaseEntry{Dir: dir, Block: blk}
		if _, err := os.Stat(filepath.Join(dir, report.CaseArchiveName)); err == nil {
			ce.Archive = report.CaseArchiveName
		}
		manifest.Cases = append(manifest.Cases, ce)
	}
	sort.Slice(manifest.Cases, func(i, j int) bool {
		return manifest.Cases[i].Dir < manifest.Cases[j].Dir
	})
	return manifest, nil
}

func readSummary(path string) (report.BlockReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return report.BlockReport{}, err
	}
	var blk report.BlockReport
	if err := json.Unmarshal(data, &blk); err != nil {
		return report.BlockReport{}, err
	}
	return blk, nil
}

func writeManifest(path string, manifest Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer util.CloseWithErr(f, "manifest output")
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(manifest)
}
