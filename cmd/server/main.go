package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/tariel-x/livedesk/internal/config"
	"github.com/tariel-x/livedesk/internal/handlers"
)

const AppVersion = "1.0.0"

// Build timestamp - set at compile time or use current time
var buildTimestamp = time.Now().Unix()

const shutdownTimeout = 10 * time.Second

func main() {
	httpOnly := flag.Bool("http-only", false, "Run in backend-only mode (disable SSL/LE, use HTTP)")
	selfSigned := flag.Bool("self-signed", false, "Enable HTTPS using a generated self-signed certificate")
	configPath := flag.String("config", "", "Path to a config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath, *httpOnly, *selfSigned); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until SIGINT or SIGTERM. Errors during startup are returned
// after the logger has been flushed.
func run(configPath string, httpOnly, selfSigned bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if httpOnly {
		cfg.Server.HTTPOnly = true
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("livedesk server starting",
		zap.String("version", AppVersion),
		zap.Int64("build", buildTimestamp),
		zap.String("store", cfg.Store.Driver),
		zap.String("bus", cfg.Bus.Driver),
		zap.Duration("tick_interval", cfg.Inbox.TickInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer a.close()

	go a.scheduler.Run(ctx)

	router := setupRouter(a.handlers, cfg, logger)
	servers := startServer(router, cfg, selfSigned, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return nil
}

func setupRouter(h *handlers.Handlers, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), zapGinLogger(logger.Named("gin")))
	router.Use(corsMiddleware(cfg))

	h.Register(router.Group("/api"))
	return router
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	// Use frontend URI for CORS in http-only mode, otherwise allow all
	origin := "*"
	if cfg.Server.HTTPOnly && cfg.Server.FrontendURI != "" {
		origin = cfg.Server.FrontendURI
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Location")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// startServer starts the listeners for the configured mode and returns them
// for shutdown.
func startServer(router *gin.Engine, cfg *config.Config, selfSigned bool, logger *zap.Logger) []*http.Server {
	if cfg.Server.HTTPOnly {
		return startHTTP(router, cfg, logger)
	}
	if selfSigned {
		return startSelfSignedHTTPS(router, cfg, logger)
	}
	return startAutocertHTTPS(router, cfg, logger)
}

func newServer(addr string, handler http.Handler, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays unset: websocket connections are long lived.
		IdleTimeout: 60 * time.Second,
		ErrorLog:    log.New(newTLSErrorWriter(logger), "", 0),
	}
}

func serve(srv *http.Server, tlsOn bool, logger *zap.Logger) {
	go func() {
		var err error
		if tlsOn {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}()
}

func startHTTP(router *gin.Engine, cfg *config.Config, logger *zap.Logger) []*http.Server {
	srv := newServer(":"+cfg.Server.HTTPPort, router, logger)
	logger.Info("HTTP server starting",
		zap.String("port", cfg.Server.HTTPPort),
		zap.String("frontend_uri", cfg.Server.FrontendURI),
	)
	serve(srv, false, logger)
	return []*http.Server{srv}
}

func startSelfSignedHTTPS(router *gin.Engine, cfg *config.Config, logger *zap.Logger) []*http.Server {
	logger.Info("self-signed TLS enabled, generating certificate")

	hosts := []string{"localhost"}
	if cfg.Server.Domain != "" {
		hosts = []string{cfg.Server.Domain}
	}
	certPEM, keyPEM, err := generateSelfSignedCert(hosts)
	if err != nil {
		logger.Fatal("failed to generate self-signed certificate", zap.Error(err))
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		logger.Fatal("failed to load self-signed certificate", zap.Error(err))
	}

	httpsServer := newServer(":"+cfg.Server.HTTPSPort, router, logger)
	httpsServer.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host + ":" + cfg.Server.HTTPSPort + r.URL.Path
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
	httpServer := newServer(":"+cfg.Server.HTTPPort, redirect, logger)

	logger.Info("HTTPS server (self-signed) starting",
		zap.String("https_port", cfg.Server.HTTPSPort),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("host", hosts[0]),
	)
	serve(httpServer, false, logger)
	serve(httpsServer, true, logger)
	return []*http.Server{httpsServer, httpServer}
}

func startAutocertHTTPS(router *gin.Engine, cfg *config.Config, logger *zap.Logger) []*http.Server {
	certsDir := getCertsDirectory()
	if err := os.MkdirAll(certsDir, 0700); err != nil {
		logger.Fatal("failed to create certs directory", zap.Error(err))
	}

	domain := normalizeDomain(cfg.Server.Domain)
	m := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: hostPolicy(domain),
		Cache:      autocert.DirCache(certsDir),
	}

	// ACME challenges go to autocert, everything else is redirected to HTTPS.
	httpHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/.well-known/acme-challenge/") {
			m.HTTPHandler(nil).ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.RequestURI, http.StatusMovedPermanently)
	})

	httpServer := newServer(":"+cfg.Server.HTTPPort, httpHandler, logger)
	httpsServer := newServer(":"+cfg.Server.HTTPSPort, router, logger)
	httpsServer.TLSConfig = m.TLSConfig()

	logger.Info("HTTPS server starting",
		zap.String("domain", domain),
		zap.String("https_port", cfg.Server.HTTPSPort),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("certs_dir", certsDir),
	)
	if domain == "localhost" || domain == "127.0.0.1" {
		logger.Warn("Let's Encrypt will not work for localhost. Use --self-signed for local development.")
	}

	serve(httpServer, false, logger)
	serve(httpsServer, true, logger)
	go startCertificateRenewal(m, domain, logger)
	return []*http.Server{httpsServer, httpServer}
}

// hostPolicy accepts only the configured domain, with or without www.
func hostPolicy(domain string) autocert.HostPolicy {
	return func(_ context.Context, host string) error {
		if normalizeDomain(host) != domain {
			return fmt.Errorf("host %q not configured (expected %q)", host, domain)
		}
		return nil
	}
}

// startCertificateRenewal checks the certificate once shortly after start and
// then monthly.
func startCertificateRenewal(m *autocert.Manager, domain string, logger *zap.Logger) {
	time.Sleep(30 * time.Second)

	ticker := time.NewTicker(30 * 24 * time.Hour)
	defer ticker.Stop()

	checkAndRenewCertificate(m, domain, logger)
	for range ticker.C {
		checkAndRenewCertificate(m, domain, logger)
	}
}

func checkAndRenewCertificate(m *autocert.Manager, domain string, logger *zap.Logger) {
	logger = logger.With(zap.String("domain", domain))

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
	if err != nil {
		logger.Error("certificate not available yet, it will be obtained on next request", zap.Error(err))
		return
	}
	if cert == nil || len(cert.Certificate) == 0 {
		logger.Error("no certificate in cache")
		return
	}

	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			logger.Error("failed to parse certificate", zap.Error(err))
			return
		}
	}

	daysUntilExpiry := int(time.Until(leaf.NotAfter).Hours() / 24)
	logger.Info("certificate checked",
		zap.Int("days_until_expiry", daysUntilExpiry),
		zap.Time("not_after", leaf.NotAfter),
	)
	if daysUntilExpiry >= 30 {
		return
	}

	// autocert renews on access once the certificate is close to expiry.
	if _, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err != nil {
		logger.Error("certificate renewal failed", zap.Error(err))
		return
	}
	logger.Info("certificate renewal triggered")
}

func getCertsDirectory() string {
	execPath, err := os.Executable()
	if err != nil {
		return "certs"
	}
	return filepath.Join(filepath.Dir(execPath), "certs")
}

// normalizeDomain lowercases, trims and strips a leading "www.".
func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(domain, "www.")
}

// generateSelfSignedCert creates a one year ECDSA certificate for hosts.
// Entries that parse as IPs become IP SANs, the rest DNS names.
func generateSelfSignedCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.Add(365 * 24 * time.Hour)

	dnsNames := make([]string, 0, len(hosts))
	ipAddrs := make([]net.IP, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			h = host
		}
		if ip := net.ParseIP(h); ip != nil {
			ipAddrs = append(ipAddrs, ip)
			continue
		}
		dnsNames = append(dnsNames, h)
	}
	if len(dnsNames) == 0 && len(ipAddrs) == 0 {
		dnsNames = []string{"localhost"}
	}

	var commonName string
	if len(dnsNames) > 0 {
		commonName = dnsNames[0]
	} else {
		commonName = ipAddrs[0].String()
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Livedesk Development"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddrs,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	certBuffer := new(bytes.Buffer)
	if err := pem.Encode(certBuffer, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	keyBuffer := new(bytes.Buffer)
	if err := pem.Encode(keyBuffer, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	return certBuffer.Bytes(), keyBuffer.Bytes(), nil
}
