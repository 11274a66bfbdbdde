package main

import (
	"context"
	"flag"
	"io"
	"strings"

	"github.com/davidahmann/callproof/core/verify"
)

type verifyBundleOutput struct {
	OK     bool                 `json:"ok"`
	Result *verify.BundleResult `json:"result,omitempty"`
	errorEnvelope
}

type verifyManifestOutput struct {
	OK     bool                   `json:"ok"`
	Result *verify.ManifestResult `json:"result,omitempty"`
	errorEnvelope
}

func runVerify(arguments []string) int {
	if len(arguments) == 0 {
		printUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "bundle":
		return runVerifyBundle(arguments[1:])
	case "manifest":
		return runVerifyManifest(arguments[1:])
	default:
		printUsage()
		return exitInvalidInput
	}
}

func runVerifyBundle(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("verify bundle", "Recompute a bundle's hash, its manifest's hash, and the artifact-hash set from stored content, and compare against the recorded values. Read-only: a mismatch is reported, never repaired.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("verify bundle", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var dbPath, configPath string
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(verifyBundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	bundleID := strings.TrimSpace(flagSet.Arg(0))
	if bundleID == "" {
		return writeJSONOutput(verifyBundleOutput{errorEnvelope: errorEnvelope{Error: "a bundle id argument is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(verifyBundleOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	result, err := verify.NewVerifier(s).VerifyBundle(context.Background(), bundleID)
	if err != nil {
		return writeJSONOutput(verifyBundleOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	exitCode := exitOK
	if !result.OK {
		exitCode = exitVerifyFailed
	}
	return writeJSONOutput(verifyBundleOutput{OK: result.OK, Result: &result}, exitCode)
}

func runVerifyManifest(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("verify manifest", "Recompute a manifest's hash from stored content and compare against the recorded value. Also reports whether a current bundle exists.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("verify manifest", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var dbPath, configPath string
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(verifyManifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	manifestID := strings.TrimSpace(flagSet.Arg(0))
	if manifestID == "" {
		return writeJSONOutput(verifyManifestOutput{errorEnvelope: errorEnvelope{Error: "a manifest id argument is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(verifyManifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	result, err := verify.NewVerifier(s).VerifyManifest(context.Background(), manifestID)
	if err != nil {
		return writeJSONOutput(verifyManifestOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	exitCode := exitOK
	if !result.OK {
		exitCode = exitVerifyFailed
	}
	return writeJSONOutput(verifyManifestOutput{OK: result.OK, Result: &result}, exitCode)
}
