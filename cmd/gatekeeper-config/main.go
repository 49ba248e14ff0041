package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/gatekeeper"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "check":
		handleCheck()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gatekeeper-config - Configuration tool for gatekeeper")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gatekeeper-config convert <input> <output>         - Convert between formats")
	fmt.Println("  gatekeeper-config validate <file>                  - Validate configuration")
	fmt.Println("  gatekeeper-config stats <file>                     - Show configuration statistics")
	fmt.Println("  gatekeeper-config check <file> <roles> <method> <path> - Evaluate a decision")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json, .bin")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: gatekeeper-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)

	inStat, _ := os.Stat(inputFile)
	outStat, _ := os.Stat(outputFile)
	if inStat != nil && outStat != nil {
		reduction := (1 - float64(outStat.Size())/float64(inStat.Size())) * 100
		if reduction > 0 {
			fmt.Printf("Size reduced by %.1f%% (%d -> %d bytes)\n",
				reduction, inStat.Size(), outStat.Size())
		} else {
			fmt.Printf("Size increased by %.1f%% (%d -> %d bytes)\n",
				-reduction, inStat.Size(), outStat.Size())
		}
	}
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: gatekeeper-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Roles: %d\n", len(cfg.Matrix))
	fmt.Printf("  Projections: %d\n", len(cfg.Projections))
	fmt.Printf("  Routes: %d\n", len(cfg.Routes))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: gatekeeper-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)

	matrix := cfg.BuildMatrix()
	grants := 0
	for _, role := range matrix.Roles() {
		for _, rt := range matrix.ResourceTypes() {
			grants += len(matrix.PermissionsFor(role, rt))
		}
	}
	fmt.Printf("Roles: %d\n", len(matrix.Roles()))
	fmt.Printf("Resource types: %d\n", len(matrix.ResourceTypes()))
	fmt.Printf("Total grants: %d\n", grants)
	fmt.Printf("Projection rules: %d\n", len(cfg.Projections))
	fmt.Printf("Route overrides: %d\n", len(cfg.Routes))
	fmt.Printf("Strict methods: %v\n", cfg.Engine.StrictMethods)
}

// handleCheck evaluates one decision against the configured matrix, without
// any store behind it. Roles are comma-separated.
func handleCheck() {
	if len(os.Args) < 6 {
		fmt.Println("Usage: gatekeeper-config check <file> <roles> <method> <path>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	engine, err := cfg.BuildEngine()
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	roles := make([]gatekeeper.Role, 0, 4)
	for _, r := range strings.Split(os.Args[3], ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, gatekeeper.Role(r))
		}
	}
	id := &gatekeeper.Identity{PrincipalID: "cli-check", Roles: roles}

	d := engine.Authorize(id, os.Args[4], os.Args[5])
	fmt.Printf("Effect: %s\n", d.Effect)
	fmt.Printf("Resource: %s\n", d.Resource)
	if d.Context != nil {
		fmt.Printf("Groups: %s\n", strings.Join(d.Context.Groups, ","))
	}
	if !d.Allowed() {
		os.Exit(2)
	}
}

func loadConfig(filename string) (*gatekeeper.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	loader := gatekeeper.NewConfigLoader()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	case ".bin":
		return loader.LoadBinary(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
}

func saveConfig(cfg *gatekeeper.Config, filename string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	case ".bin":
		data, err = gatekeeper.EncodeBinaryConfig(cfg)
	default:
		return fmt.Errorf("unsupported format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
