package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

func TestParseSequences(t *testing.T) {
	in := "company_id;prefix;last_value\n" +
		"# caja de respaldo\n" +
		"c1; f ;120\n" +
		"c1;CAJA2;7\n"
	rows, err := parseSequences(strings.NewReader(in), false)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, entity.DocumentSequence{CompanyID: "c1", Prefix: "F", LastValue: 120}, rows[0])
	assert.Equal(t, "CAJA2", rows[1].Prefix)
}

func TestParseSequences_Latin1(t *testing.T) {
	raw, err := charmap.ISO8859_1.NewEncoder().String("compañía-1;B;3\n")
	require.NoError(t, err)

	rows, err := parseSequences(strings.NewReader(raw), true)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "compañía-1", rows[0].CompanyID)
}

func TestParseSequences_Invalid(t *testing.T) {
	for name, in := range map[string]string{
		"prefijo con guion": "c1;F-1;3\n",
		"valor negativo":    "c1;F;-3\n",
		"valor no numérico": "c1;F;tres\n",
		"columnas de más":   "c1;F;3;x\n",
		"empresa vacía":     ";F;3\n",
	} {
		_, err := parseSequences(strings.NewReader(in), false)
		assert.Error(t, err, name)
	}
}

func TestWriteSequenceSQL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSequenceSQL(&buf, []entity.DocumentSequence{{CompanyID: "o'hara", Prefix: "F", LastValue: 9}}))
	assert.Contains(t, buf.String(), "VALUES ('o''hara', 'F', 9)")
	assert.Contains(t, buf.String(), "GREATEST(document_sequences.last_value, EXCLUDED.last_value)")
}
