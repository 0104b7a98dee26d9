package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remitflow/remitflow/internal/config"
	"github.com/remitflow/remitflow/internal/eventbus"
	"github.com/remitflow/remitflow/internal/storage/sqlite"
	"github.com/remitflow/remitflow/internal/types"
)

var importFile string

var importConfigCmd = &cobra.Command{
	Use:   "import-config",
	Short: "Import payer/payee configuration from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.Load()
		path := importFile
		if path == "" {
			path = settings.PayerSeedFile
		}
		if path == "" {
			return fmt.Errorf("no seed file: pass --file or set %s", config.KeyPayerSeedFile)
		}

		store, err := sqlite.New(cmd.Context(), settings.DatabasePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		logger := log.New(os.Stderr, "", log.LstdFlags)
		return importSeedFile(cmd.Context(), store, nil, path, logger)
	},
}

func init() {
	importConfigCmd.Flags().StringVar(&importFile, "file", "", "Seed file path (defaults to payers.seedFile)")
}

// seedFile is the YAML shape of the configuration seed.
type seedFile struct {
	Payers          []*types.Payer              `yaml:"payers"`
	Payees          []*types.Payee              `yaml:"payees"`
	NamingTemplates []*types.FileNamingTemplate `yaml:"naming_templates"`
}

// importSeedFile upserts every payer, payee, and naming template in the seed
// file. When a bus is supplied, a config-change event is published per payer
// so cached SFTP sessions are evicted.
func importSeedFile(ctx context.Context, store *sqlite.Store, bus *eventbus.Bus, path string, logger *log.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", path, err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, p := range seed.Payers {
		if err := store.UpsertPayer(ctx, p); err != nil {
			return err
		}
		if bus != nil {
			bus.Publish(&eventbus.Event{
				Type:    eventbus.EventPayerConfigChanged,
				PayerID: p.ID,
			})
		}
	}
	for _, p := range seed.Payees {
		if err := store.UpsertPayee(ctx, p); err != nil {
			return err
		}
	}
	for _, t := range seed.NamingTemplates {
		if err := store.CreateNamingTemplate(ctx, t); err != nil {
			logger.Printf("import: naming template %s: %v", t.Name, err)
		}
	}
	logger.Printf("import: %d payers, %d payees, %d naming templates from %s",
		len(seed.Payers), len(seed.Payees), len(seed.NamingTemplates), path)
	return nil
}
