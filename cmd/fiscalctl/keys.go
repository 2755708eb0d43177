package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/crypto"
)

func keygenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave AES en base64 para CRYPTO_PAYLOAD_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "Tamaño de la clave (16, 24 o 32)")
	return cmd
}

func webhookSignCmd() *cobra.Command {
	var (
		secret string
		file   string
		at     int64
	)
	cmd := &cobra.Command{
		Use:   "webhook-sign",
		Short: "Firma un body de webhook (útil para probar el endpoint en local)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("WEBHOOK_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("--secret o WEBHOOK_SECRET requerido")
			}
			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("leer body: %w", err)
			}
			ts := time.Now()
			if at > 0 {
				ts = time.Unix(at, 0)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", webhook.SignatureHeader, webhook.Sign([]byte(secret), ts, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Secreto compartido (por defecto WEBHOOK_SECRET)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Archivo con el body JSON")
	cmd.Flags().Int64Var(&at, "at", 0, "Timestamp unix a firmar (por defecto ahora)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
