// storage-admission-webhook is the entrypoint binary for the mutating
// admission webhook that injects already-mounted storage volumes into pods
// requesting them. Its manager bootstrap (scheme registration is skipped —
// this webhook has no CRDs — logf/zap logging, config.GetConfigOrDie,
// manager.New, signal-handled mgr.Start) is adapted from
// cmd/aws-s3-csi-controller/main.go.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"

	"github.com/neuro-inc/platform-storage-api/pkg/admission"
	"github.com/neuro-inc/platform-storage-api/pkg/admission/volumeresolver"
	"github.com/neuro-inc/platform-storage-api/pkg/certsync"
	cfgpkg "github.com/neuro-inc/platform-storage-api/pkg/config"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/localfs"
	"github.com/neuro-inc/platform-storage-api/pkg/storage/pathresolver"
)

func main() {
	logf.SetLogger(zap.New())
	log := logf.Log.WithName("storage-admission-webhook")

	cfg, err := cfgpkg.LoadAdmission()
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}

	restConfig := config.GetConfigOrDie()
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		log.Error(err, "failed to build Kubernetes clientset")
		os.Exit(1)
	}

	tender := certsync.New(clientset, certsync.SecretSource{
		Namespace: cfg.CertSecretNamespace,
		Name:      cfg.CertSecretName,
	}, cfg.TLSCertDir, 10*time.Second)
	if err := tender.SyncOnce(context.Background()); err != nil {
		log.Error(err, "failed initial TLS cert sync")
		os.Exit(1)
	}

	podName, err := os.Hostname()
	if err != nil {
		log.Error(err, "failed to read own hostname")
		os.Exit(1)
	}
	resolver, err := volumeresolver.New(context.Background(), clientset,
		buildResolver(cfg.Storage), cfg.PodNamespace, podName)
	if err != nil {
		log.Error(err, "failed to resolve own pod's mounted volumes")
		os.Exit(1)
	}
	engine := admission.New(resolver)

	mgr, err := manager.New(restConfig, manager.Options{
		WebhookServer: webhook.NewServer(webhook.Options{
			Port:    cfg.Server.Port,
			CertDir: cfg.TLSCertDir,
		}),
		Metrics: metricsserver.Options{
			BindAddress: cfg.Metrics.Server.Host + ":" + strconv.Itoa(cfg.Metrics.Server.Port),
		},
	})
	if err != nil {
		log.Error(err, "failed to create manager")
		os.Exit(1)
	}

	if err := mgr.Add(tenderRunnable{tender: tender}); err != nil {
		log.Error(err, "failed to register cert-sync runnable")
		os.Exit(1)
	}

	mgr.GetWebhookServer().Register("/mutate", mutateHandler(engine, log))

	if err := mgr.Start(signals.SetupSignalHandler()); err != nil {
		log.Error(err, "manager exited with error")
		os.Exit(1)
	}
}

// tenderRunnable adapts certsync.Tender.Run to manager.Runnable so the
// manager's own lifecycle (start/stop on signal) drives the poll loop.
type tenderRunnable struct {
	tender *certsync.Tender
}

func (t tenderRunnable) Start(ctx context.Context) error {
	t.tender.Run(ctx)
	return nil
}

func buildResolver(cfg cfgpkg.StorageConfig) pathresolver.PathResolver {
	if cfg.Mode == cfgpkg.StorageModeMultiple {
		return pathresolver.MultiRoot{
			FS:          localfs.New(),
			BasePath:    cfg.LocalBasePath,
			DefaultPath: cfg.DefaultBasePath,
		}
	}
	return pathresolver.SingleRoot{BasePath: cfg.LocalBasePath}
}

func mutateHandler(engine *admission.Engine, log logr.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		resp, err := engine.HandleMutate(r.Context(), body)
		if err != nil {
			log.Error(err, "admission engine failed to handle mutate request")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp)
	})
}
