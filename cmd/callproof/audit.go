package main

import (
	"context"
	"flag"
	"io"
	"strings"

	"github.com/davidahmann/callproof/core/schema/v1/evidence"
)

type auditOutput struct {
	OK           bool                   `json:"ok"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Records      []evidence.AuditRecord `json:"records,omitempty"`
	errorEnvelope
}

func runAudit(arguments []string) int {
	if explainRequested(arguments) {
		return writeExplain("audit", "List the append-only audit trail for a manifest or bundle: supersessions, retirements, and legal-hold changes, oldest first.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"resource": true, "id": true, "db": true, "config": true,
	})
	flagSet := flag.NewFlagSet("audit", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var resourceType, resourceID, dbPath, configPath string
	flagSet.StringVar(&resourceType, "resource", "", "resource type (manifest or bundle)")
	flagSet.StringVar(&resourceID, "id", "", "resource identifier")
	flagSet.StringVar(&dbPath, "db", "", "evidence store path")
	flagSet.StringVar(&configPath, "config", "", "project config path")
	if err := flagSet.Parse(arguments); err != nil {
		return writeJSONOutput(auditOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInvalidInput)
	}
	resourceType = strings.TrimSpace(resourceType)
	resourceID = strings.TrimSpace(resourceID)
	if resourceType != "manifest" && resourceType != "bundle" {
		return writeJSONOutput(auditOutput{errorEnvelope: errorEnvelope{Error: "--resource must be manifest or bundle"}}, exitInvalidInput)
	}
	if resourceID == "" {
		return writeJSONOutput(auditOutput{errorEnvelope: errorEnvelope{Error: "--id is required"}}, exitInvalidInput)
	}

	s, _, err := openStoreFromFlags(configPath, dbPath)
	if err != nil {
		return writeJSONOutput(auditOutput{errorEnvelope: errorEnvelope{Error: err.Error()}}, exitInternalFailure)
	}
	defer func() {
		_ = s.Close()
	}()

	records, err := s.AuditByResource(context.Background(), resourceType, resourceID)
	if err != nil {
		return writeJSONOutput(auditOutput{errorEnvelope: envelopeFor(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeJSONOutput(auditOutput{OK: true, ResourceType: resourceType, ResourceID: resourceID, Records: records}, exitOK)
}
