package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/jhoicas/Facturacion-api/internal/bootstrap"
	"github.com/jhoicas/Facturacion-api/pkg/config"
	"github.com/jhoicas/Facturacion-api/pkg/logger"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Cola de contingencia",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Ejecuta una pasada del motor de sincronización y termina",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Sync.Enabled = true
			log := logger.FromConfig(cfg)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			comp, err := bootstrap.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer comp.Close()

			res, err := comp.Scheduler.Trigger(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	})
	return cmd
}
