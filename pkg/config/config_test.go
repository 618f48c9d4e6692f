package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuro-inc/platform-storage-api/pkg/config"
)

func baseGatewayEnv() map[string]string {
	return map[string]string{
		"NP_STORAGE_LOCAL_BASE_PATH": "/var/storage",
		"NP_PLATFORM_TOKEN":          "tok",
		"NP_PLATFORM_CLUSTER_NAME":   "cluster",
	}
}

func TestLoadGatewayDefaults(t *testing.T) {
	cfg, err := config.LoadGatewayFrom(baseGatewayEnv())
	require.NoError(t, err)

	assert.Equal(t, "/var/storage", cfg.Storage.LocalBasePath)
	assert.Equal(t, 100, cfg.Storage.LocalThreadPoolSize)
	assert.Equal(t, config.StorageModeSingle, cfg.Storage.Mode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 75*time.Second, cfg.Server.KeepAliveTimeout)
	assert.Equal(t, "cluster", cfg.Platform.ClusterName)
	assert.Equal(t, time.Duration(0), cfg.PermissionCache.ExpirationInterval)
	assert.Nil(t, cfg.Platform.AuthURL)
}

func TestLoadGatewayMissingRequired(t *testing.T) {
	_, err := config.LoadGatewayFrom(map[string]string{})
	require.Error(t, err)
}

func TestLoadGatewayInvalidStorageMode(t *testing.T) {
	env := baseGatewayEnv()
	env["NP_STORAGE_MODE"] = "bogus"
	_, err := config.LoadGatewayFrom(env)
	require.Error(t, err)
}

func TestLoadGatewayMultipleModeAndCaching(t *testing.T) {
	env := baseGatewayEnv()
	env["NP_STORAGE_MODE"] = "MULTIPLE"
	env["NP_PERMISSION_EXPIRATION_INTERVAL"] = "30"
	env["NP_PERMISSION_FORGETTING_INTERVAL"] = "300"
	env["NP_PLATFORM_AUTH_URL"] = "https://auth.example.com"
	env["NP_PLATFORM_ADMIN_URL"] = "https://admin.example.com"

	cfg, err := config.LoadGatewayFrom(env)
	require.NoError(t, err)

	assert.Equal(t, config.StorageModeMultiple, cfg.Storage.Mode)
	assert.Equal(t, 30*time.Second, cfg.PermissionCache.ExpirationInterval)
	assert.Equal(t, 300*time.Second, cfg.PermissionCache.ForgettingInterval)
	require.NotNil(t, cfg.Platform.AuthURL)
	assert.Equal(t, "https://auth.example.com", cfg.Platform.AuthURL.String())
	require.NotNil(t, cfg.Platform.AdminURL)
	assert.Equal(t, "/apis/admin/v1", cfg.Platform.AdminURL.Path)
}

func TestLoadGatewayDashDisablesURL(t *testing.T) {
	env := baseGatewayEnv()
	env["NP_PLATFORM_AUTH_URL"] = "-"
	cfg, err := config.LoadGatewayFrom(env)
	require.NoError(t, err)
	assert.Nil(t, cfg.Platform.AuthURL)
}

func TestLoadAdmissionDefaults(t *testing.T) {
	cfg, err := config.LoadAdmissionFrom(map[string]string{
		"NP_PLATFORM_CLUSTER_NAME":   "cluster",
		"NP_STORAGE_LOCAL_BASE_PATH": "/var/storage",
	})
	require.NoError(t, err)
	assert.Equal(t, "cluster", cfg.ClusterName)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "csi-s3", cfg.StorageClassName)
	assert.Equal(t, "/etc/webhook/certs", cfg.TLSCertDir)
	assert.Equal(t, "default", cfg.PodNamespace)
	assert.Equal(t, "/var/storage", cfg.Storage.LocalBasePath)
}

func TestLoadAdmissionMissingCluster(t *testing.T) {
	_, err := config.LoadAdmissionFrom(map[string]string{})
	require.Error(t, err)
}
