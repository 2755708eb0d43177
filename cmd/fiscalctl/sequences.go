package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/jhoicas/Facturacion-api/internal/bootstrap"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/pkg/config"
	"github.com/jhoicas/Facturacion-api/pkg/logger"
)

func sequencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequences",
		Short: "Correlativos de folios provisionales",
	}

	var (
		apply  bool
		latin1 bool
	)
	importCmd := &cobra.Command{
		Use:   "import <archivo.csv>",
		Short: "Importa correlativos (company_id;prefix;last_value). Sin --apply imprime el SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("abrir CSV: %w", err)
			}
			defer f.Close()

			rows, err := parseSequences(f, latin1)
			if err != nil {
				return err
			}
			if !apply {
				return writeSequenceSQL(cmd.OutOrStdout(), rows)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Sync.Enabled = false
			log := logger.FromConfig(cfg)
			ctx := context.Background()
			comp, err := bootstrap.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer comp.Close()
			for _, r := range rows {
				if err := comp.Sequences.Seed(ctx, r.CompanyID, r.Prefix, r.LastValue); err != nil {
					return fmt.Errorf("%s/%s: %w", r.CompanyID, r.Prefix, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "importados %d correlativos\n", len(rows))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&apply, "apply", false, "Aplicar directamente en la base configurada")
	importCmd.Flags().BoolVar(&latin1, "latin1", true, "El CSV viene en ISO-8859-1 (exportación de planilla)")
	cmd.AddCommand(importCmd)
	return cmd
}

// parseSequences lee filas company_id;prefix;last_value. Una cabecera opcional se ignora.
func parseSequences(r io.Reader, latin1 bool) ([]entity.DocumentSequence, error) {
	if latin1 {
		r = transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	}
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var (
		out  []entity.DocumentSequence
		line int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CSV: %w", err)
		}
		line++
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "company_id") {
			continue
		}
		prefix := strings.ToUpper(strings.TrimSpace(rec[1]))
		if prefix == "" || len(prefix) > 10 || strings.ContainsFunc(prefix, func(r rune) bool {
			return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
		}) {
			return nil, fmt.Errorf("línea %d: prefijo inválido %q", line, rec[1])
		}
		last, err := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		if err != nil || last < 0 {
			return nil, fmt.Errorf("línea %d: last_value inválido %q", line, rec[2])
		}
		companyID := strings.TrimSpace(rec[0])
		if companyID == "" {
			return nil, fmt.Errorf("línea %d: company_id vacío", line)
		}
		out = append(out, entity.DocumentSequence{CompanyID: companyID, Prefix: prefix, LastValue: last})
	}
	return out, nil
}

func writeSequenceSQL(w io.Writer, rows []entity.DocumentSequence) error {
	if _, err := fmt.Fprintln(w, "-- Correlativos importados por fiscalctl"); err != nil {
		return err
	}
	for _, r := range rows {
		_, err := fmt.Fprintf(w,
			"INSERT INTO document_sequences (company_id, prefix, last_value) VALUES ('%s', '%s', %d)\n"+
				"ON CONFLICT (company_id, prefix) DO UPDATE SET last_value = GREATEST(document_sequences.last_value, EXCLUDED.last_value);\n",
			escapeSQL(r.CompanyID), escapeSQL(r.Prefix), r.LastValue)
		if err != nil {
			return err
		}
	}
	return nil
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
