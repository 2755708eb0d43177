// fiscalctl herramientas de operación: claves, firma de webhooks, sincronización manual
// e importación de correlativos.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "fiscalctl",
		Short:        "Operación del servicio de facturación",
		Version:      Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(webhookSignCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(sequencesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
