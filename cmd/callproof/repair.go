package main

import (
	"context"
	"flag"
	"io"

	"github.com/davidahmann/callproof/core/bundle"
	"github.com/davidahmann/callproof/core/logging"
	"github.com/davidahmann/callproof/core/repair"
)

type repairOutput struct {
	OK      bool `json:"ok"`
	Checked int  `json:"checked"`
	Fixed   int  `json:"fixed"`
	errorEnvelope
}

func runRepair(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("repair", "Find current manifests with no current bundle and build the missing bundle for each. Safe to re-run; a concurrent organic build wins.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"batch": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("repair", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var dbPath, configPath string
	var batchSize int
	flagSet.IntVar(&batchSize, "batch", 0, "maximum manifests repaired per sweep")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(repairOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	s, cfg, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(repairOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return writeJSONOutput(repairOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if batchSize == 0 {
		batchSize = cfg.Repair.BatchSize
	}

	job := repair.NewJob(s, bundle.NewBuilder(s, logger), logger)
	report, err := job.RepairOrphans(context.Background(), batchSize)
	if err != nil {
		return writeJSONOutput(repairOutput{Checked: report.Checked, Fixed: report.Fixed, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(repairOutput{OK: true, Checked: report.Checked, Fixed: report.Fixed}, exitOK)
}
