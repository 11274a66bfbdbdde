package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davidahmann/callproof/core/manifest"
	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

type manifestOutput struct {
	OK       bool               `json:"ok"`
	Manifest *evidence.Manifest `json:"manifest,omitempty"`
	errorEnvelope
}

type manifestListOutput struct {
	OK        bool                `json:"ok"`
	CallID    string              `json:"call_id,omitempty"`
	Manifests []evidence.Manifest `json:"manifests,omitempty"`
	errorEnvelope
}

func runManifest(arguments []string) int {
	if len(arguments) == 0 {
		printUsage()
		return exitInvalidInput
	}
	switch arguments[0] {
	case "create":
		return runManifestCreate(arguments[1:])
	case "show":
		return runManifestShow(arguments[1:])
	case "list":
		return runManifestList(arguments[1:])
	default:
		printUsage()
		return exitInvalidInput
	}
}

func runManifestCreate(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("manifest create", "Create a content-addressed manifest for a call's artifact set. An existing current manifest for the call is superseded, never mutated.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"call": true, "producer": true, "artifacts": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("manifest create", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var callID, producer, artifactsPath, dbPath, configPath string
	flagSet.StringVar(&callID, "call", "", "call identifier")
	flagSet.StringVar(&producer, "producer", "", "producing system identity")
	flagSet.StringVar(&artifactsPath, "artifacts", "", "path to a JSON array of artifact references")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	artifacts, err := readArtifactsFile(artifactsPath)
	if err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	m, err := manifest.NewBuilder(s).Build(context.Background(), callID, producer, artifacts)
	if err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(manifestOutput{OK: true, Manifest: &m}, exitOK)
}

func runManifestShow(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("manifest show", "Show one manifest by id, or the current manifest for a call.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"id": true, "call": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("manifest show", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var manifestID, callID, dbPath, configPath string
	flagSet.StringVar(&manifestID, "id", "", "manifest identifier")
	flagSet.StringVar(&callID, "call", "", "call identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if (manifestID == "") == (callID == "") {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: "exactly one of --id or --call is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	ctx := context.Background()
	var m evidence.Manifest
	if manifestID != "" {
		m, err = s.ManifestByID(ctx, manifestID)
	} else {
		m, err = s.CurrentManifestByCall(ctx, callID)
	}
	if err != nil {
		return writeJSONOutput(manifestOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(manifestOutput{OK: true, Manifest: &m}, exitOK)
}

func runManifestList(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("manifest list", "List every manifest version recorded for a call, newest first, including superseded ones.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"call": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("manifest list", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var callID, dbPath, configPath string
	flagSet.StringVar(&callID, "call", "", "call identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(manifestListOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	if strings.TrimSpace(callID) == "" {
		return writeJSONOutput(manifestListOutput{errorEnvelope: errorEnvelope{Error: "--call is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(manifestListOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	manifests, err := s.ManifestsByCall(context.Background(), callID)
	if err != nil {
		return writeJSONOutput(manifestListOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(manifestListOutput{OK: true, CallID: callID, Manifests: manifests}, exitOK)
}

func readArtifactsFile(path string) ([]evidence.ArtifactReference, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--artifacts is required")
	}
	// #nosec G304 -- artifacts path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifacts file: %w", err)
	}
	var artifacts []evidence.ArtifactReference
	if err := json.Unmarshal(content, &artifacts); err != nil {
		return nil, fmt.Errorf("parse artifacts file: %w", err)
	}
	return artifacts, nil
}
