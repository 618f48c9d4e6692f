// Package config loads the gateway and admission-webhook processes'
// configuration from environment variables, grounded on
// original_source/src/platform_storage_api/config.py's EnvironConfigFactory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageMode selects how the gateway maps the logical root namespace onto
// the local filesystem. See pkg/storage/pathresolver.
type StorageMode string

const (
	StorageModeSingle   StorageMode = "single"
	StorageModeMultiple StorageMode = "multiple"
)

// ServerConfig is the plain HTTP listen configuration shared by both
// binaries.
type ServerConfig struct {
	Host string
	Port int
}

// GatewayServerConfig adds the gateway-specific keep-alive tuning on top of
// ServerConfig.
type GatewayServerConfig struct {
	ServerConfig
	KeepAliveTimeout time.Duration
}

// StorageConfig governs the local filesystem backing and the worker pool
// bounding blocking filesystem calls.
type StorageConfig struct {
	LocalBasePath       string
	DefaultBasePath     string
	LocalThreadPoolSize int
	Mode                StorageMode
}

// PlatformConfig carries the identity-service coordinates this gateway
// authenticates callers and checks permissions against.
type PlatformConfig struct {
	AuthURL     *url.URL
	AdminURL    *url.URL
	Token       string
	ClusterName string
}

// PermissionCacheConfig governs pkg/permcache.Cache's two TTLs. A zero
// ExpirationInterval disables caching entirely (every lookup goes upstream).
type PermissionCacheConfig struct {
	ExpirationInterval time.Duration
	ForgettingInterval time.Duration
}

// MetricsConfig is the Prometheus exposition server's own listen address,
// separate from the main gateway/admission server.
type MetricsConfig struct {
	Server ServerConfig
}

// GatewayConfig is the full configuration for cmd/storage-api.
type GatewayConfig struct {
	Server          GatewayServerConfig
	Storage         StorageConfig
	Platform        PlatformConfig
	PermissionCache PermissionCacheConfig
	Metrics         MetricsConfig
}

// AdmissionConfig is the full configuration for
// cmd/storage-admission-webhook.
type AdmissionConfig struct {
	Server              ServerConfig
	ClusterName         string
	StorageClassName    string
	TLSCertDir          string
	CertSecretNamespace string
	CertSecretName      string
	PodNamespace        string
	Storage             StorageConfig
	Metrics             MetricsConfig
}

// environ abstracts os.Environ-backed lookup so tests can supply a fake map
// without mutating process environment.
type environ struct {
	lookup func(string) (string, bool)
}

func fromOS() environ {
	return environ{lookup: os.LookupEnv}
}

// FromMap builds an environ-like source from a plain map, for tests.
func FromMap(m map[string]string) environ {
	return environ{lookup: func(k string) (string, bool) { v, ok := m[k]; return v, ok }}
}

func (e environ) get(name, def string) string {
	if v, ok := e.lookup(name); ok {
		return v
	}
	return def
}

func (e environ) require(name string) (string, error) {
	v, ok := e.lookup(name)
	if !ok || v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", name)
	}
	return v, nil
}

func (e environ) getInt(name string, def int) (int, error) {
	v, ok := e.lookup(name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}

func (e environ) getFloatSeconds(name string, def float64) (time.Duration, error) {
	v, ok := e.lookup(name)
	if !ok {
		return time.Duration(def * float64(time.Second)), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", name, err)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func (e environ) getURL(name string) (*url.URL, error) {
	v, ok := e.lookup(name)
	if !ok || v == "" || v == "-" {
		return nil, nil
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not a valid URL: %w", name, err)
	}
	return u, nil
}

// LoadGateway loads GatewayConfig from the process environment.
func LoadGateway() (*GatewayConfig, error) {
	return loadGateway(fromOS())
}

// LoadGatewayFrom loads GatewayConfig from an explicit map, for tests.
func LoadGatewayFrom(m map[string]string) (*GatewayConfig, error) {
	return loadGateway(FromMap(m))
}

// loadStorage loads the local-filesystem-backing configuration shared by
// both binaries: the gateway serves this tree directly, and the admission
// webhook's volume resolver needs the identical base-path/mode settings to
// compute the same local paths its own pod's mounted volumes are rooted at.
func loadStorage(e environ) (*StorageConfig, error) {
	basePath, err := e.require("NP_STORAGE_LOCAL_BASE_PATH")
	if err != nil {
		return nil, err
	}
	poolSize, err := e.getInt("NP_STORAGE_LOCAL_THREAD_POOL_SIZE", 100)
	if err != nil {
		return nil, err
	}
	mode := StorageMode(strings.ToLower(e.get("NP_STORAGE_MODE", string(StorageModeSingle))))
	if mode != StorageModeSingle && mode != StorageModeMultiple {
		return nil, fmt.Errorf("config: NP_STORAGE_MODE must be %q or %q, got %q", StorageModeSingle, StorageModeMultiple, mode)
	}
	return &StorageConfig{
		LocalBasePath:       basePath,
		DefaultBasePath:     e.get("NP_STORAGE_LOCAL_BASE_PATH_DEFAULT", basePath),
		LocalThreadPoolSize: poolSize,
		Mode:                mode,
	}, nil
}

func loadGateway(e environ) (*GatewayConfig, error) {
	storage, err := loadStorage(e)
	if err != nil {
		return nil, err
	}

	port, err := e.getInt("NP_STORAGE_API_PORT", 8080)
	if err != nil {
		return nil, err
	}
	keepAlive, err := e.getFloatSeconds("NP_STORAGE_API_KEEP_ALIVE_TIMEOUT", 75)
	if err != nil {
		return nil, err
	}

	platform, err := loadPlatform(e)
	if err != nil {
		return nil, err
	}

	expiration, err := e.getFloatSeconds("NP_PERMISSION_EXPIRATION_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	forgetting, err := e.getFloatSeconds("NP_PERMISSION_FORGETTING_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	metricsPort, err := e.getInt("NP_METRICS_API_PORT", 10_005)
	if err != nil {
		return nil, err
	}

	return &GatewayConfig{
		Server: GatewayServerConfig{
			ServerConfig:     ServerConfig{Host: e.get("SERVER_HOST", "0.0.0.0"), Port: port},
			KeepAliveTimeout: keepAlive,
		},
		Storage:  *storage,
		Platform: *platform,
		PermissionCache: PermissionCacheConfig{
			ExpirationInterval: expiration,
			ForgettingInterval: forgetting,
		},
		Metrics: MetricsConfig{Server: ServerConfig{Host: e.get("SERVER_HOST", "0.0.0.0"), Port: metricsPort}},
	}, nil
}

func loadPlatform(e environ) (*PlatformConfig, error) {
	authURL, err := e.getURL("NP_PLATFORM_AUTH_URL")
	if err != nil {
		return nil, err
	}
	adminURL, err := e.getURL("NP_PLATFORM_ADMIN_URL")
	if err != nil {
		return nil, err
	}
	if adminURL != nil {
		adminURL = adminURL.JoinPath("apis/admin/v1")
	}
	token, err := e.require("NP_PLATFORM_TOKEN")
	if err != nil {
		return nil, err
	}
	clusterName, err := e.require("NP_PLATFORM_CLUSTER_NAME")
	if err != nil {
		return nil, err
	}
	return &PlatformConfig{AuthURL: authURL, AdminURL: adminURL, Token: token, ClusterName: clusterName}, nil
}

// LoadAdmission loads AdmissionConfig from the process environment.
func LoadAdmission() (*AdmissionConfig, error) {
	return loadAdmission(fromOS())
}

// LoadAdmissionFrom loads AdmissionConfig from an explicit map, for tests.
func LoadAdmissionFrom(m map[string]string) (*AdmissionConfig, error) {
	return loadAdmission(FromMap(m))
}

func loadAdmission(e environ) (*AdmissionConfig, error) {
	clusterName, err := e.require("NP_PLATFORM_CLUSTER_NAME")
	if err != nil {
		return nil, err
	}
	port, err := e.getInt("NP_ADMISSION_WEBHOOK_PORT", 8443)
	if err != nil {
		return nil, err
	}
	metricsPort, err := e.getInt("NP_METRICS_API_PORT", 10_006)
	if err != nil {
		return nil, err
	}
	storage, err := loadStorage(e)
	if err != nil {
		return nil, err
	}
	return &AdmissionConfig{
		Server:              ServerConfig{Host: e.get("SERVER_HOST", "0.0.0.0"), Port: port},
		ClusterName:         clusterName,
		StorageClassName:    e.get("NP_ADMISSION_STORAGE_CLASS_NAME", "csi-s3"),
		TLSCertDir:          e.get("NP_ADMISSION_TLS_CERT_DIR", "/etc/webhook/certs"),
		CertSecretNamespace: e.get("NP_ADMISSION_CERT_SECRET_NAMESPACE", "default"),
		CertSecretName:      e.get("NP_ADMISSION_CERT_SECRET_NAME", "storage-admission-webhook-tls"),
		PodNamespace:        e.get("NP_ADMISSION_POD_NAMESPACE", "default"),
		Storage:             *storage,
		Metrics:             MetricsConfig{Server: ServerConfig{Host: e.get("SERVER_HOST", "0.0.0.0"), Port: metricsPort}},
	}, nil
}
