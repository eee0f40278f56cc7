package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dreamhive/memgate/internal/config"
	"github.com/dreamhive/memgate/internal/gateway"
	"github.com/dreamhive/memgate/internal/store"
)

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.New(store.Config{
				DSN:           cfg.Database.URL,
				RunMigrations: true,
			})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "memgate.yaml", "Path to YAML configuration file")
	return cmd
}

func buildDiaryCmd() *cobra.Command {
	diaryCmd := &cobra.Command{
		Use:   "diary",
		Short: "Diary job operations",
	}

	var configPath string
	writeCmd := &cobra.Command{
		Use:   "write",
		Short: "Generate and persist today's diary entry now",
		Long: `Run the nightly diary job once, outside its schedule. The entry is
generated with the configured diary model, stored in the records
database, and mirrored to the notes service when one is configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			app, err := gateway.New(gateway.Options{Config: cfg, Version: version})
			if err != nil {
				return err
			}
			defer app.Close()

			entry, err := app.WriteDiary(cmd.Context())
			if err != nil {
				return fmt.Errorf("write diary: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), entry)
			return nil
		},
	}
	writeCmd.Flags().StringVarP(&configPath, "config", "c", "memgate.yaml", "Path to YAML configuration file")

	diaryCmd.AddCommand(writeCmd)
	return diaryCmd
}

func buildConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON Schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}

	var checkPath string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			if _, err := config.Load(checkPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", checkPath)
			return nil
		},
	}
	checkCmd.Flags().StringVarP(&checkPath, "config", "c", "memgate.yaml", "Path to YAML configuration file")

	configCmd.AddCommand(schemaCmd, checkCmd)
	return configCmd
}
