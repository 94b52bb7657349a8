// cmd/tools/template-seeder/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"notification-workers/internal/common/config"
	"notification-workers/internal/common/database"
	"notification-workers/internal/common/logger"
	"notification-workers/internal/templates"
	"notification-workers/pkg/registry"
)

func main() {
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
	exportCmd := flag.NewFlagSet("export", flag.ExitOnError)

	validatePath := validateCmd.String("path", "configs/template-registry.json", "Path to registry file")

	seedPath := seedCmd.String("path", "configs/template-registry.json", "Path to registry file")
	seedConfig := seedCmd.String("config", "", "Config file (defaults to configs/config.yaml)")
	seedForce := seedCmd.Bool("force", false, "Create a new version even when an active template exists")
	seedBy := seedCmd.String("by", "template-seeder", "Author recorded on created templates")

	exportPath := exportCmd.String("path", "template-registry.export.json", "Output file")
	exportConfig := exportCmd.String("config", "", "Config file (defaults to configs/config.yaml)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		reg, err := registry.LoadRegistry(*validatePath)
		if err != nil {
			fail("Error loading registry: %v", err)
		}
		if problems := registry.Validate(reg); len(problems) > 0 {
			for _, p := range problems {
				fmt.Printf("  - %v\n", p)
			}
			fail("Registry validation failed: %d problem(s)", len(problems))
		}
		fmt.Printf("Registry validation passed: %d template(s)\n", len(reg.Templates))

	case "seed":
		_ = seedCmd.Parse(os.Args[2:])
		reg, err := registry.LoadRegistry(*seedPath)
		if err != nil {
			fail("Error loading registry: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		svc, closeStore := openService(ctx, *seedConfig)
		defer closeStore()

		res, err := registry.Seed(ctx, svc, reg, *seedBy, *seedForce)
		if err != nil {
			fail("Seeding failed: %v", err)
		}
		out, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(out))
		if len(res.Failed) > 0 {
			os.Exit(1)
		}

	case "export":
		_ = exportCmd.Parse(os.Args[2:])
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		svc, closeStore := openService(ctx, *exportConfig)
		defer closeStore()

		reg, err := registry.Export(ctx, svc)
		if err != nil {
			fail("Export failed: %v", err)
		}
		if err := registry.SaveRegistry(*exportPath, reg); err != nil {
			fail("Error writing %s: %v", *exportPath, err)
		}
		fmt.Printf("Exported %d template(s) to %s\n", len(reg.Templates), *exportPath)

	case "help":
		fallthrough
	default:
		help()
	}
}

// openService builds a template service over the configured store.
func openService(ctx context.Context, configPath string) (*templates.Service, func()) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fail("Error loading config: %v", err)
	}

	log := logger.NewStructured(cfg.Logging.Level, "console")
	tcfg := templates.Config{HistoryLimit: cfg.Templates.HistoryLimit, DefaultLanguage: cfg.Templates.DefaultLanguage}

	switch cfg.Templates.Store {
	case "postgres":
		pg, err := database.NewPostgres(ctx, cfg.Database.Postgres)
		if err != nil {
			fail("Error connecting to postgres: %v", err)
		}
		store := templates.NewPostgresStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			fail("Error preparing schema: %v", err)
		}
		return templates.NewService(tcfg, store, nil, log), func() { _ = pg.Close() }

	case "mongo":
		mc, err := database.NewMongo(ctx, cfg.Database.Mongo)
		if err != nil {
			fail("Error connecting to mongo: %v", err)
		}
		store := templates.NewMongoStore(mc.Templates())
		if err := store.EnsureIndexes(ctx); err != nil {
			fail("Error creating indexes: %v", err)
		}
		return templates.NewService(tcfg, store, nil, log), func() { _ = mc.Close(context.Background()) }

	default:
		fail("templates.store %q has nothing to seed into", cfg.Templates.Store)
		return nil, nil
	}
}

func fail(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

func help() {
	fmt.Println("Template Seeder Tool")
	fmt.Println("Usage:")
	fmt.Println("  template-seeder validate [-path configs/template-registry.json]")
	fmt.Println("  template-seeder seed [-path file] [-config file] [-force] [-by author]")
	fmt.Println("  template-seeder export [-path out.json] [-config file]")
}
