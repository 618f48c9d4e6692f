// storage-api is the entrypoint binary for the HTTP/WebSocket storage
// gateway, adapted from cmd/aws-s3-csi-driver/main.go's flag parsing,
// klog setup, and signal-handled run/stop lifecycle (there driving a
// grpc.Server; here an http.Server).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/neuro-inc/platform-storage-api/pkg/config"
	"github.com/neuro-inc/platform-storage-api/pkg/gateway/httpapi"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache"
	"github.com/neuro-inc/platform-storage-api/pkg/permcache/authclient"
	"github.com/neuro-inc/platform-storage-api/pkg/storage"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/localfs"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/workerpool"
	"github.com/neuro-inc/platform-storage-api/pkg/version"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	cfg, err := config.LoadGateway()
	if err != nil {
		klog.Fatalf("storage-api: %v", err)
	}

	resolver := buildResolver(cfg.Storage)
	pool := workerpool.New(cfg.Storage.LocalThreadPoolSize)
	store := storage.New(resolver, localfs.New(), pool)

	var upstream permcache.UpstreamChecker
	if cfg.Platform.AuthURL != nil {
		upstream = authclient.New(cfg.Platform.AuthURL, cfg.Platform.ClusterName, "storage-api", http.DefaultClient)
	} else {
		klog.Fatalln("storage-api: NP_PLATFORM_AUTH_URL is required")
	}
	cache := permcache.New(upstream, cfg.PermissionCache.ExpirationInterval, cfg.PermissionCache.ForgettingInterval)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	metrics := httpapi.NewMetrics(registry)

	handler := httpapi.New(store, cache, "storage-api", metrics)

	server := &http.Server{
		Addr:        addr(cfg.Server.Host, cfg.Server.Port),
		Handler:     handler.Router(),
		IdleTimeout: cfg.Server.KeepAliveTimeout,
	}

	metricsServer := &http.Server{
		Addr:    addr(cfg.Metrics.Server.Host, cfg.Metrics.Server.Port),
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	klog.Infof("storage-api: %s listening on %s", version.Header(), server.Addr)

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Errorf("storage-api: metrics server: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stopCh
		klog.Infof("storage-api: received signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = metricsServer.Shutdown(ctx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Fatalf("storage-api: %v", err)
	}
}

func buildResolver(cfg config.StorageConfig) pathresolver.PathResolver {
	if cfg.Mode == config.StorageModeMultiple {
		return pathresolver.MultiRoot{
			FS:          localfs.New(),
			BasePath:    cfg.LocalBasePath,
			DefaultPath: cfg.DefaultBasePath,
		}
	}
	return pathresolver.SingleRoot{BasePath: cfg.LocalBasePath}
}

func addr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
