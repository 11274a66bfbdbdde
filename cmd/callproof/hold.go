package main

import (
	"context"
	"flag"
	"io"
	"strings"

	"github.com/davidahmann/callproof/core/retention"
)

type holdOutput struct {
	OK       bool   `json:"ok"`
	BundleID string `json:"bundle_id,omitempty"`
	Held     bool   `json:"held"`
	errorEnvelope
}

func runHold(arguments []string) int {
	if len(arguments) == 0 {
		printUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "set":
		return runHoldChange(arguments[1:], true)
	case "clear":
		return runHoldChange(arguments[1:], false)
	default:
		printUsage()
		return exitInvalidInput
	}
}

func runHoldChange(arguments []string, set bool) int {
	if explainRequested(arguments) {
		if set {
			return writeExplain("hold set", "Place a bundle on legal hold. Held bundles are exempt from retention expiry until the hold is cleared. The actor and reason are recorded in the audit log.")
		}
		return writeExplain("hold clear", "Clear a bundle's legal hold. Requires the clearing actor and reason; the release is recorded in the audit log.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"bundle": true, "actor": true, "reason": true, "db": true, "config": true,
	})
	name := "hold clear"
	if set {
		name = "hold set"
	}
	flagSet := flag.NewFlagSet(name, flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var bundleID, actor, reason, dbPath, configPath string
	flagSet.StringVar(&bundleID, "bundle", "", "bundle identifier")
	flagSet.StringVar(&actor, "actor", "", "identity making the change")
	flagSet.StringVar(&reason, "reason", "", "matter or ticket justifying the change")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(holdOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if strings.TrimSpace(bundleID) == "" {
		return writeJSONOutput(holdOutput{errorEnvelope: errorEnvelope{Error: "--bundle is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(holdOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	ctx := context.Background()
	holds := retention.NewHolds(s)
	if set {
		err = holds.Set(ctx, bundleID, actor, reason)
	} else {
		err = holds.Clear(ctx, bundleID, actor, reason)
	}
	if err != nil {
		return writeJSONOutput(holdOutput{BundleID: bundleID, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(holdOutput{OK: true, BundleID: bundleID, Held: set}, exitOK)
}
