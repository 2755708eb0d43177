package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// ErrIdempotencyConflict: la clave de idempotencia ya existe con un payload distinto.
	ErrIdempotencyConflict = fmt.Errorf("%w: clave de idempotencia reutilizada con otro payload", ErrConflict)
	// ErrInvalidTransition: transición regresiva o desde un estado terminal.
	ErrInvalidTransition = errors.New("transición de estado no permitida")

	ErrTransientProvider  = errors.New("proveedor no disponible temporalmente")
	ErrPermanentProvider  = errors.New("documento rechazado por el proveedor")
	ErrUnexpectedProvider = errors.New("error inesperado durante la emisión")

	// ErrMalformedPayload: blob cifrado o snapshot corrupto; requiere intervención manual.
	ErrMalformedPayload = errors.New("payload malformado")
	// ErrStorage: fallo de E/S en el almacén de artefactos.
	ErrStorage = errors.New("error de almacenamiento de artefactos")
)

// ProviderError describe un fallo devuelto por el proveedor de emisión.
// Permanent distingue un rechazo de negocio (terminal) de una caída transitoria.
type ProviderError struct {
	Permanent  bool
	StatusCode int
	Message    string
	Details    []string
}

func (e *ProviderError) Error() string {
	kind := "transitorio"
	if e.Permanent {
		kind = "permanente"
	}
	msg := e.Message
	if len(e.Details) > 0 {
		msg += ": " + strings.Join(e.Details, "; ")
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("proveedor (%s, HTTP %d): %s", kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("proveedor (%s): %s", kind, msg)
}

// Unwrap permite usar errors.Is con ErrPermanentProvider / ErrTransientProvider.
func (e *ProviderError) Unwrap() error {
	if e.Permanent {
		return ErrPermanentProvider
	}
	return ErrTransientProvider
}

// NewTransientProviderError construye un fallo transitorio (red, timeout, 5xx).
func NewTransientProviderError(statusCode int, msg string) *ProviderError {
	return &ProviderError{StatusCode: statusCode, Message: msg}
}

// NewPermanentProviderError construye un rechazo de negocio/validación del proveedor.
func NewPermanentProviderError(statusCode int, msg string, details ...string) *ProviderError {
	return &ProviderError{Permanent: true, StatusCode: statusCode, Message: msg, Details: details}
}
