package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse a run spec and report configuration errors without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			spec, err := loadRunSpec(path)
			if err != nil {
				return err
			}
			cfg, err := spec.toConfig()
			if err != nil {
				return fmt.Errorf("invalid run spec: %w", err)
			}
			if _, err := buildStrategy(spec); err != nil {
				return err
			}
			log.WithFields(map[string]interface{}{
				"symbols": len(spec.Symbols),
				"cash":    cfg.Cash.String(),
				"mode":    string(cfg.ExecutionMode),
			}).Info("run spec is valid")
			return nil
		},
	}
}
