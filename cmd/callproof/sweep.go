package main

import (
	"context"
	"flag"
	"io"

	"github.com/davidahmann/callproof/core/logging"
	"github.com/davidahmann/callproof/core/projectconfig"
	"github.com/davidahmann/callproof/core/retention"
)

type sweepOutput struct {
	OK      bool `json:"ok"`
	Scanned int  `json:"scanned"`
	Retired int  `json:"retired"`
	Skipped int  `json:"skipped"`
	errorEnvelope
}

func runSweep(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("sweep", "Retire current bundles whose retention TTL has elapsed. Bundles on legal hold are skipped; every retirement is audited.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"batch": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("sweep", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var dbPath, configPath string
	var batchSize int
	flagSet.IntVar(&batchSize, "batch", 0, "maximum bundles scanned per sweep")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(sweepOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	s, cfg, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(sweepOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return writeJSONOutput(sweepOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if batchSize == 0 {
		batchSize = cfg.Retention.BatchSize
	}

	policy := retention.DefaultPolicy()
	policy.DefaultTTL = projectconfig.Duration(cfg.Retention.DefaultTTL, policy.DefaultTTL)
	policy.RegulatedTTL = projectconfig.Duration(cfg.Retention.RegulatedTTL, policy.RegulatedTTL)

	report, err := retention.NewSweeper(s, policy, logger).Sweep(context.Background(), batchSize)
	if err != nil {
		return writeJSONOutput(sweepOutput{Scanned: report.Scanned, Retired: report.Retired, Skipped: report.Skipped, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(sweepOutput{OK: true, Scanned: report.Scanned, Retired: report.Retired, Skipped: report.Skipped}, exitOK)
}
