package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"strings"
	"time"

	"github.com/davidahmann/callproof/core/bundle"
	"github.com/davidahmann/callproof/core/projectconfig"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
	"github.com/davidahmann/callproof/core/store"
	"github.com/davidahmann/callproof/core/tsa"
)

const defaultTSATimeout = 10 * time.Second

var errTSAEndpointRequired = errors.New("a timestamp authority endpoint is required: pass --tsa-endpoint or set tsa.endpoint in the project config")

type bundleOutput struct {
	OK     bool             `json:"ok"`
	Bundle *evidence.Bundle `json:"bundle,omitempty"`
	errorEnvelope
}

func runBundle(arguments []string) int {
	if len(arguments) == 0 {
		printUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "create":
		return runBundleCreate(arguments[1:])
	case "show":
		return runBundleShow(arguments[1:])
	case "timestamp":
		return runBundleTimestamp(arguments[1:])
	default:
		printUsage()
		return exitInvalidInput
	}
}

func runBundleCreate(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("bundle create", "Build a self-verifying bundle from a manifest's artifact hashes. With --tsa the bundle hash is also submitted for a trusted timestamp.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"manifest": true, "db": true, "config": true, "tsa-endpoint": true,
	})
	flagSet := flag.NewFlagSet("bundle create", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var manifestID, dbPath, configPath, tsaEndpoint string
	var submitTSA bool
	flagSet.StringVar(&manifestID, "manifest", "", "manifest identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&tsaEndpoint, "tsa-endpoint", "", "timestamp authority endpoint")
	flagSet.BoolVar(&submitTSA, "tsa", false, "submit the bundle hash for a trusted timestamp")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if strings.TrimSpace(manifestID) == "" {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: "--manifest is required"}}, exitInvalidInput)
	}

	s, cfg, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	builder, err := bundleBuilderFromConfig(s, cfg, tsaEndpoint, submitTSA)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	ctx := context.Background()
	b, err := builder.Build(ctx, manifestID)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	if submitTSA {
		if err := builder.SubmitTSA(ctx, b.ID); err != nil {
			// The bundle exists and verifies; report the timestamping
			// failure without discarding it.
			b, _ = s.BundleByID(ctx, b.ID)
			return writeJSONOutput(bundleOutput{Bundle: &b, errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
		}
		b, err = s.BundleByID(ctx, b.ID)
		if err != nil {
			return writeJSONOutput(bundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
		}
	}
	return writeJSONOutput(bundleOutput{OK: true, Bundle: &b}, exitOK)
}

func runBundleShow(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("bundle show", "Show one bundle by id, or the current bundle for a manifest.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"id": true, "manifest": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("bundle show", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var bundleID, manifestID, dbPath, configPath string
	flagSet.StringVar(&bundleID, "id", "", "bundle identifier")
	flagSet.StringVar(&manifestID, "manifest", "", "manifest identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if (bundleID == "") == (manifestID == "") {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: "exactly one of --id or --manifest is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	ctx := context.Background()
	var b evidence.Bundle
	if bundleID != "" {
		b, err = s.BundleByID(ctx, bundleID)
	} else {
		b, err = s.CurrentBundleByManifest(ctx, manifestID)
	}
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(bundleOutput{OK: true, Bundle: &b}, exitOK)
}

func runBundleTimestamp(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("bundle timestamp", "Submit a bundle hash to the timestamp authority, or poll an outstanding submission. A bundle with no timestamp or a failed attempt is submitted fresh; a pending bundle is polled with its stored token.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"id": true, "db": true, "config": true, "tsa-endpoint": true,
	})
	flagSet := flag.NewFlagSet("bundle timestamp", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var bundleID, dbPath, configPath, tsaEndpoint string
	flagSet.StringVar(&bundleID, "id", "", "bundle identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	flagSet.StringVar(&tsaEndpoint, "tsa-endpoint", "", "timestamp authority endpoint")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if strings.TrimSpace(bundleID) == "" {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: "--id is required"}}, exitInvalidInput)
	}

	s, cfg, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	builder, err := bundleBuilderFromConfig(s, cfg, tsaEndpoint, true)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	ctx := context.Background()
	if err := builder.SubmitTSA(ctx, bundleID); err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	b, err := s.BundleByID(ctx, bundleID)
	if err != nil {
		return writeJSONOutput(bundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(bundleOutput{OK: true, Bundle: &b}, exitOK)
}

func bundleBuilderFromConfig(s *store.Store, cfg projectconfig.Config, tsaEndpoint string, needTSA bool) (*bundle.Builder, error) {
	builder := bundle.NewBuilder(s, nil)
	endpoint := strings.TrimSpace(tsaEndpoint)
	if endpoint == "" {
		endpoint = cfg.TSA.Endpoint
	}
	if endpoint == "" {
		if needTSA {
			return nil, errTSAEndpointRequired
		}
		return builder, nil
	}
	timeout := projectconfig.Duration(cfg.TSA.Timeout, defaultTSATimeout)
	return builder.WithTSA(tsa.NewHTTPClient(endpoint, timeout)), nil
}
