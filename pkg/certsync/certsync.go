// Package certsync keeps the admission webhook's on-disk TLS certificate in
// sync with a Kubernetes Secret, adapted from
// pkg/driver/driver.go's tokenFileTender poll-and-atomically-replace loop
// (there used for AWS web-identity tokens; here for tls.crt/tls.key).
package certsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const (
	certFileName = "tls.crt"
	keyFileName  = "tls.key"
	filePerm     = 0o600
)

// SecretSource identifies the Secret a Tender polls.
type SecretSource struct {
	Namespace string
	Name      string
}

// Tender polls a Kubernetes Secret of type kubernetes.io/tls and materializes
// its tls.crt/tls.key onto disk for controller-runtime's certwatcher to pick
// up, atomically so a concurrent TLS handshake never observes a half-written
// pair.
type Tender struct {
	client   kubernetes.Interface
	source   SecretSource
	certDir  string
	interval time.Duration
}

// New builds a Tender. SyncOnce creates certDir if it is missing.
func New(client kubernetes.Interface, source SecretSource, certDir string, interval time.Duration) *Tender {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Tender{client: client, source: source, certDir: certDir, interval: interval}
}

// SyncOnce fetches the Secret and atomically replaces the on-disk cert pair.
// It returns an error if the Secret is missing or malformed; callers
// typically ignore transient errors from a background Run loop but should
// treat a SyncOnce failure at startup as fatal (no cert to serve yet).
func (t *Tender) SyncOnce(ctx context.Context) error {
	secret, err := t.client.CoreV1().Secrets(t.source.Namespace).Get(ctx, t.source.Name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("certsync: secret %s/%s not found", t.source.Namespace, t.source.Name)
		}
		return fmt.Errorf("certsync: fetching secret %s/%s: %w", t.source.Namespace, t.source.Name, err)
	}

	cert, ok := secret.Data[corev1.TLSCertKey]
	if !ok || len(cert) == 0 {
		return fmt.Errorf("certsync: secret %s/%s has no %s entry", t.source.Namespace, t.source.Name, corev1.TLSCertKey)
	}
	key, ok := secret.Data[corev1.TLSPrivateKeyKey]
	if !ok || len(key) == 0 {
		return fmt.Errorf("certsync: secret %s/%s has no %s entry", t.source.Namespace, t.source.Name, corev1.TLSPrivateKeyKey)
	}

	if err := os.MkdirAll(t.certDir, 0o755); err != nil {
		return fmt.Errorf("certsync: creating cert dir %s: %w", t.certDir, err)
	}
	if err := writeAtomically(filepath.Join(t.certDir, certFileName), cert); err != nil {
		return err
	}
	if err := writeAtomically(filepath.Join(t.certDir, keyFileName), key); err != nil {
		return err
	}
	return nil
}

// Run polls SyncOnce every interval until ctx is cancelled. Errors are
// logged, not fatal, since the on-disk cert from the previous successful
// sync remains valid for controller-runtime to keep serving.
func (t *Tender) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		if err := t.SyncOnce(ctx); err != nil {
			klog.Errorf("certsync: %v", err)
		}
		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			return
		}
	}
}

func writeAtomically(destPath string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("certsync: creating temp file for %s: %w", destPath, err)
	}
	defer tmp.Close()

	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("certsync: chmod temp file for %s: %w", destPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("certsync: writing temp file for %s: %w", destPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("certsync: closing temp file for %s: %w", destPath, err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("certsync: renaming into place %s: %w", destPath, err)
	}
	return nil
}
