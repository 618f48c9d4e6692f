package certsync_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/neuro-inc/platform-storage-api/pkg/certsync"
)

func newSecret(cert, key string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "webhook-tls", Namespace: "storage"},
		Type:       corev1.SecretTypeTLS,
		Data: map[string][]byte{
			corev1.TLSCertKey:       []byte(cert),
			corev1.TLSPrivateKeyKey: []byte(key),
		},
	}
}

func TestSyncOnceWritesCertPair(t *testing.T) {
	client := fake.NewSimpleClientset(newSecret("CERT-DATA", "KEY-DATA"))
	dir := t.TempDir()
	tender := certsync.New(client, certsync.SecretSource{Namespace: "storage", Name: "webhook-tls"}, dir, time.Second)

	require.NoError(t, tender.SyncOnce(t.Context()))

	cert, err := os.ReadFile(filepath.Join(dir, "tls.crt"))
	require.NoError(t, err)
	assert.Equal(t, "CERT-DATA", string(cert))

	key, err := os.ReadFile(filepath.Join(dir, "tls.key"))
	require.NoError(t, err)
	assert.Equal(t, "KEY-DATA", string(key))
}

func TestSyncOnceMissingSecret(t *testing.T) {
	client := fake.NewSimpleClientset()
	tender := certsync.New(client, certsync.SecretSource{Namespace: "storage", Name: "missing"}, t.TempDir(), time.Second)

	err := tender.SyncOnce(t.Context())
	require.Error(t, err)
}

func TestSyncOnceMalformedSecret(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "webhook-tls", Namespace: "storage"},
		Data:       map[string][]byte{corev1.TLSCertKey: []byte("CERT-ONLY")},
	}
	client := fake.NewSimpleClientset(secret)
	tender := certsync.New(client, certsync.SecretSource{Namespace: "storage", Name: "webhook-tls"}, t.TempDir(), time.Second)

	err := tender.SyncOnce(t.Context())
	require.Error(t, err)
}

func TestSyncOnceOverwritesPreviousCert(t *testing.T) {
	client := fake.NewSimpleClientset(newSecret("CERT-1", "KEY-1"))
	dir := t.TempDir()
	tender := certsync.New(client, certsync.SecretSource{Namespace: "storage", Name: "webhook-tls"}, dir, time.Second)

	require.NoError(t, tender.SyncOnce(t.Context()))

	updated := newSecret("CERT-2", "KEY-2")
	_, err := client.CoreV1().Secrets("storage").Update(t.Context(), updated, metav1.UpdateOptions{})
	require.NoError(t, err)

	require.NoError(t, tender.SyncOnce(t.Context()))
	cert, err := os.ReadFile(filepath.Join(dir, "tls.crt"))
	require.NoError(t, err)
	assert.Equal(t, "CERT-2", string(cert))
}
