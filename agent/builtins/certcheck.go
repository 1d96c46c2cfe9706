package builtins

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"time"
)

// checkServerCert dials host:port with TLS and reports whether the
// presented certificate chain validates against the system trust store.
func checkServerCert(ctx context.Context, host string, port int) (bool, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{})
	if err != nil {
		return false, err
	}
	defer conn.Close()
	return true, nil
}

// checkCertFile parses a PEM-encoded certificate file and reports
// whether it is currently within its validity window.
func checkCertFile(path string) (bool, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, time.Time{}, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return false, time.Time{}, fmt.Errorf("no PEM block found in %q", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, time.Time{}, err
	}
	now := time.Now()
	valid := now.After(cert.NotBefore) && now.Before(cert.NotAfter)
	return valid, cert.NotAfter, nil
}
