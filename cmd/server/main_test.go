package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tariel-x/livedesk/internal/config"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSignedCert([]string{"desk.example.com:8443", "127.0.0.1", " "})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if leaf.Subject.CommonName != "desk.example.com" {
		t.Fatalf("unexpected common name %q", leaf.Subject.CommonName)
	}
	if len(leaf.DNSNames) != 1 || len(leaf.IPAddresses) != 1 {
		t.Fatalf("unexpected SANs: %v %v", leaf.DNSNames, leaf.IPAddresses)
	}
	if err := leaf.VerifyHostname("desk.example.com"); err != nil {
		t.Fatalf("verify hostname: %v", err)
	}
}

func TestGenerateSelfSignedCertDefaultsToLocalhost(t *testing.T) {
	certPEM, keyPEM, err := generateSelfSignedCert(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	leaf, _ := x509.ParseCertificate(pair.Certificate[0])
	if leaf.Subject.CommonName != "localhost" {
		t.Fatalf("expected localhost, got %q", leaf.Subject.CommonName)
	}
}

func TestHostPolicy(t *testing.T) {
	policy := hostPolicy(normalizeDomain(" WWW.Desk.Example.com "))
	if err := policy(context.Background(), "desk.example.com"); err != nil {
		t.Fatalf("expected configured host to pass: %v", err)
	}
	if err := policy(context.Background(), "www.desk.example.com"); err != nil {
		t.Fatalf("expected www variant to pass: %v", err)
	}
	if err := policy(context.Background(), "evil.example.com"); err == nil {
		t.Fatalf("expected foreign host to be rejected")
	}
}

func TestTLSErrorFilter(t *testing.T) {
	var buf bytes.Buffer
	f := &tlsErrorFilter{writer: &buf}

	_, _ = f.Write([]byte(`http: TLS handshake error from 1.2.3.4:5: acme/autocert: host "x" not configured`))
	if buf.Len() != 0 {
		t.Fatalf("expected unauthorized host error to be dropped, got %q", buf.String())
	}
	_, _ = f.Write([]byte("http: TLS handshake error from 1.2.3.4:5: EOF"))
	if buf.Len() == 0 {
		t.Fatalf("expected other errors to pass through")
	}
}

func TestZapLineWriter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := newTLSErrorWriter(zap.New(core))

	_, _ = w.Write([]byte("  \n"))
	_, _ = w.Write([]byte("http: response.WriteHeader on hijacked connection\n"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[0].ContextMap()["message"] != "http: response.WriteHeader on hijacked connection" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "loud", Format: "console"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be disabled")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be enabled")
	}
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Server: config.ServerConfig{HTTPOnly: true, FrontendURI: "https://app.example.com"}}

	router := gin.New()
	router.Use(corsMiddleware(cfg))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/ping", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected origin %q", got)
	}
}

func TestRunReturnsStartupErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "log:\n  level: error\nstore:\n  driver: redis\n  redis_url: \"http://not-redis\"\nbus:\n  driver: none\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := run(path, false, false)
	if err == nil || !strings.Contains(err.Error(), "redis store") {
		t.Fatalf("expected the store error to be returned, got %v", err)
	}
}

func TestRunRejectsHTTPOnlyWithoutFrontend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(path, true, false); err == nil {
		t.Fatalf("expected http-only without frontend_uri to fail")
	}
}
