// Command callproof manages evidentiary manifests and bundles for
// recorded business calls: create, verify, repair, retention, and
// legal-hold operations against a local sqlite evidence store.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidahmann/callproof/core/projectconfig"
	"github.com/davidahmann/callproof/core/store"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const defaultStorePath = ".callproof/callproof.db"

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		fmt.Println("callproof", version)
		return exitOK
	}
	if arguments[1] == "--explain" {
		return writeExplain("", "Callproof is an offline-first CLI for tamper-evident call evidence: content-addressed manifests, self-verifying bundles, and append-only supersession.")
	}

	switch arguments[1] {
	case "manifest":
		return runManifest(arguments[2:])
	case "bundle":
		return runBundle(arguments[2:])
	case "verify":
		return runVerify(arguments[2:])
	case "repair":
		return runRepair(arguments[2:])
	case "hold":
		return runHold(arguments[2:])
	case "sweep":
		return runSweep(arguments[2:])
	case "audit":
		return runAudit(arguments[2:])
	case "version", "--version", "-v":
		if explainRequested(arguments[2:]) {
			return writeExplain("version", "Print the CLI version.")
		}
		fmt.Println("callproof", version)
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  callproof manifest create --call <id> --producer <name> --artifacts <artifacts.json> [--db <path>] [--explain]")
	fmt.Println("  callproof manifest show (--id <manifest_id> | --call <call_id>) [--db <path>] [--explain]")
	fmt.Println("  callproof manifest list --call <call_id> [--db <path>] [--explain]")
	fmt.Println("  callproof bundle create --manifest <manifest_id> [--tsa] [--db <path>] [--explain]")
	fmt.Println("  callproof bundle show (--id <bundle_id> | --manifest <manifest_id>) [--db <path>] [--explain]")
	fmt.Println("  callproof bundle timestamp --id <bundle_id> [--db <path>] [--explain]")
	fmt.Println("  callproof verify bundle <bundle_id> [--db <path>] [--explain]")
	fmt.Println("  callproof verify manifest <manifest_id> [--db <path>] [--explain]")
	fmt.Println("  callproof repair [--batch <n>] [--db <path>] [--explain]")
	fmt.Println("  callproof hold set --bundle <bundle_id> --actor <identity> --reason <text> [--db <path>] [--explain]")
	fmt.Println("  callproof hold clear --bundle <bundle_id> --actor <identity> --reason <text> [--db <path>] [--explain]")
	fmt.Println("  callproof sweep [--batch <n>] [--db <path>] [--explain]")
	fmt.Println("  callproof audit --resource <bundle|manifest> --id <resource_id> [--db <path>] [--explain]")
	fmt.Println("  callproof version [--explain]")
}

// loadConfig reads the project config. An explicitly passed path must
// exist; the default path is optional.
func loadConfig(configPath string) (projectconfig.Config, error) {
	explicit := strings.TrimSpace(configPath) != ""
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = projectconfig.DefaultPath
	}
	return projectconfig.Load(path, !explicit)
}

func openStoreFromFlags(configPath, dbPath string) (*store.Store, projectconfig.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, projectconfig.Config{}, err
	}
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		path = defaultStorePath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, cfg, fmt.Errorf("create store directory: %w", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, cfg, err
	}
	return s, cfg, nil
}
