package provider

import (
	"crypto/tls"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadClientCertificate carga el certificado de cliente para mTLS: .p12/.pfx o par PEM.
// path vacío devuelve (nil, nil): sin mTLS.
func LoadClientCertificate(path, keyPath, password string) (*tls.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".p12") || strings.HasSuffix(lower, ".pfx") {
		cert, err := loadFromP12(path, password)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
	if keyPath == "" {
		keyPath = path
	}
	cert, err := tls.LoadX509KeyPair(path, keyPath)
	if err != nil {
		return nil, fmt.Errorf("provider: cargar PEM: %w", err)
	}
	return &cert, nil
}

// loadFromP12 el password puede ser vacío si el archivo no está protegido.
func loadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("provider: leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("provider: decodificar p12: %w", err)
	}
	// pkcs12.Decode devuelve solo el certificado hoja.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}
