package webserver

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// CertReloader serves a certificate pair from disk and picks up renewed
// files without a restart.
type CertReloader struct {
	certFile string
	keyFile  string

	mu      sync.RWMutex
	cert    *tls.Certificate
	modCert time.Time
	modKey  time.Time
}

// NewCertReloader loads the pair once and, if interval is positive,
// re-checks the files every interval until ctx is done.
func NewCertReloader(ctx context.Context, certFile, keyFile string, interval time.Duration) (*CertReloader, error) {
	r := &CertReloader{certFile: certFile, keyFile: keyFile}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if interval > 0 {
		go r.watch(ctx, interval)
	}
	return r, nil
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	certInfo, _ := os.Stat(r.certFile)
	keyInfo, _ := os.Stat(r.keyFile)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cert = &cert
	if certInfo != nil {
		r.modCert = certInfo.ModTime()
	}
	if keyInfo != nil {
		r.modKey = keyInfo.ModTime()
	}
	log.Printf("tls: certificate loaded from %s", r.certFile)
	return nil
}

// changed reports whether either file is newer than the loaded pair.
func (r *CertReloader) changed() (bool, error) {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false, err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.modCert) || keyInfo.ModTime().After(r.modKey), nil
}

func (r *CertReloader) watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		changed, err := r.changed()
		if err != nil {
			log.Printf("tls: stat certificate: %v", err)
			continue
		}
		if changed {
			if err := r.reload(); err != nil {
				log.Printf("tls: reload failed, keeping previous certificate: %v", err)
			}
		}
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, errors.New("tls: no certificate loaded")
	}
	return r.cert, nil
}

// Config returns a server TLS config backed by the reloader.
func (r *CertReloader) Config() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}
