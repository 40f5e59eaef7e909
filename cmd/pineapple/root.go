package main

import (
	"github.com/spf13/cobra"
)

// rootFlags are the persistent flags overriding the loaded Config.
type rootFlags struct {
	modulesDir string
	dbPath     string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "pineapple",
		Short: "Run operations on modules in named environments",
		Long: `pineapple executes operations (deploy, test, undeploy, ...) on modules.
Each module declares, per environment, an ordered list of models handled by
plugins. Every execution produces a result tree which is reported, archived
and can trigger further operations.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate(`{{printf "pineapple version %s\n" .Version}}`)

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.modulesDir, "modules-dir", "", "modules directory (default from settings)")
	pf.StringVar(&flags.dbPath, "db-path", "", "archive database path (default ~/.pineapple/pineapple.db)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.logJSON, "log-json", false, "log in JSON")

	cmd.AddCommand(
		newExecuteCmd(flags),
		newHistoryCmd(flags),
		newScheduleCmd(flags),
		newModulesCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// config loads the layered configuration and applies flags on top.
func (f *rootFlags) config(cmd *cobra.Command) Config {
	cfg := loadConfig()
	if f.modulesDir != "" {
		cfg.ModulesDir = f.modulesDir
	}
	if f.dbPath != "" {
		cfg.DBPath = f.dbPath
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = f.logJSON
	}
	return cfg
}
