package logger

import (
	"bytes"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jhoicas/Facturacion-api/pkg/config"
)

// redacted reemplaza cualquier secreto que llegue a la salida.
const redacted = "[REDACTED]"

// minSecretLen evita redactar valores triviales (vacíos o de pocos caracteres).
const minSecretLen = 6

// Config opciones para el logger.
type Config struct {
	Env     string // development -> consola legible; otro -> JSON
	Level   string // trace, debug, info, warn, error
	Service string
	// Secrets valores que no deben aparecer nunca en un log (llave de payload, secretos, API keys).
	Secrets []string
	Out     io.Writer // por defecto os.Stdout
}

// New crea el logger raíz con el campo service y el filtro de secretos.
// También redirige el logger global de zerolog.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	out = newRedactWriter(out, cfg.Secrets)

	var w io.Writer = out
	if cfg.Env == "development" {
		w = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	zl := ctx.Logger()
	log.Logger = zl
	return zl
}

// FromConfig arma el logger de la aplicación registrando como secretos las credenciales
// de la configuración.
func FromConfig(cfg *config.Config) zerolog.Logger {
	return New(Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
		Secrets: []string{
			cfg.Crypto.PayloadKey,
			cfg.Webhook.Secret,
			cfg.Provider.APIKey,
			cfg.Provider.CertPassword,
			cfg.JWT.Secret,
			cfg.DB.Password,
		},
	})
}

// Component sublogger con el campo component fijo.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ── Redacción ─────────────────────────────────────────────────────────────────

type redactWriter struct {
	out     io.Writer
	secrets [][]byte
}

func newRedactWriter(out io.Writer, secrets []string) io.Writer {
	rw := &redactWriter{out: out}
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			rw.secrets = append(rw.secrets, []byte(s))
		}
	}
	if len(rw.secrets) == 0 {
		return out
	}
	return rw
}

// Write devuelve len(p) aunque la línea redactada tenga otro largo: zerolog trata
// n < len(p) como escritura corta.
func (w *redactWriter) Write(p []byte) (int, error) {
	line := p
	for _, s := range w.secrets {
		if bytes.Contains(line, s) {
			line = bytes.ReplaceAll(line, s, []byte(redacted))
		}
	}
	if _, err := w.out.Write(line); err != nil {
		return 0, err
	}
	return len(p), nil
}
