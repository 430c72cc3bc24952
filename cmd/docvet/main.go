package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"docvet/internal/config"
	"docvet/internal/db"
	"docvet/internal/document"
	"docvet/internal/report"
	"docvet/internal/runner"
	"docvet/internal/util"

	"gopkg.in/yaml.v3"
)

const (
	exitFailedExamples = 1
	exitEnvironment    = 2
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	docPath := flag.String("doc", "", "path to the markdown document (overrides config)")
	reportDir := flag.String("report-dir", "", "report output directory (overrides config)")
	flag.Parse()

	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitEnvironment)
	}
	if *docPath != "" {
		cfg.Doc = *docPath
	}
	if *reportDir != "" {
		cfg.Report.OutputDir = *reportDir
	}
	if cfg.Doc == "" {
		fmt.Fprintln(os.Stderr, "no document given: set doc in the config file or pass -doc")
		os.Exit(exitEnvironment)
	}
	util.SetVerbose(cfg.Logging.Verbose)
	setupLogFile(cfg.Logging.LogFile)
	if data, err := yaml.Marshal(&cfg); err == nil {
		util.Highlightf("config:\n%s", string(data))
	}

	text, err := os.ReadFile(cfg.Doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read document: %v\n", err)
		os.Exit(exitEnvironment)
	}
	blocks, err := document.Extract(string(text))
	if err != nil {
		var perr *document.ParseError
		if errors.As(err, &perr) {
			fmt.Fprintf(os.Stderr, "document is malformed: %v\n", perr)
		} else {
			fmt.Fprintf(os.Stderr, "failed to parse document: %v\n", err)
		}
		os.Exit(exitEnvironment)
	}
	util.Infof("extracted %d sql blocks from %s", len(blocks), cfg.Doc)

	ctx := context.Background()
	sess, err := db.Open(ctx, cfg.DSN, cfg.Schema, cfg.MaxCaptureRows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to db: %v\n", err)
		os.Exit(exitEnvironment)
	}
	defer sess.Close()

	reporter := report.New(cfg.Report.OutputDir, cfg.Report.ArchiveCases)
	r := runner.New(cfg, sess, reporter)
	summary, err := r.Run(ctx, cfg.Doc, blocks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(exitEnvironment)
	}

	fmt.Print(report.RenderText(summary))
	if path, err := reporter.WriteRun(summary); err != nil {
		util.Warnf("write run report: %v", err)
	} else {
		util.Infof("run report written to %s", path)
	}
	if summary.ExitCode() != 0 {
		os.Exit(exitFailedExamples)
	}
}

func setupLogFile(path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		util.Warnf("log dir: %v", err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		util.Warnf("log file: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
}
