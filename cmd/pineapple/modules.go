package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/pineapple/internal/logging"
	"github.com/rendis/pineapple/internal/modules"
	"github.com/rendis/pineapple/internal/validation"
)

func newModulesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "modules [MODULE]",
		Short: "List modules, or the environments of one module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.config(cmd)
			validator, err := validation.NewJSONSchemaValidator()
			if err != nil {
				return err
			}
			repo := modules.NewRepository(cfg.ModulesDir, validator, logging.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogJSON))
			if err := repo.Verify(); err != nil {
				return err
			}

			var names []string
			if len(args) == 1 {
				names, err = repo.Environments(args[0])
			} else {
				names, err = repo.List()
			}
			if err != nil {
				return err
			}
			if len(names) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(names, "\n"))
			}
			return nil
		},
	}
}
