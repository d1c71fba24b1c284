package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/sqre-io/labcontroller/internal/config"
	"github.com/sqre-io/labcontroller/internal/httpapi"
	"github.com/sqre-io/labcontroller/pkg/events"
	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/lab"
	"github.com/sqre-io/labcontroller/pkg/prepull"
	"github.com/sqre-io/labcontroller/pkg/usermap"
)

func main() {
	a := kingpin.New("labcontroller", "Per-user notebook lab lifecycle and image-prepull controller")
	a.HelpFlag.Short('h')

	logLevel := a.Flag("log.level", "Log level: debug, info, warn, error").
		Default("info").Enum("debug", "info", "warn", "error")
	configFile := a.Flag("config", "Path to the controller's YAML configuration file").
		Default("/etc/labcontroller/config.yaml").String()
	kubeconfig := a.Flag("kubeconfig", "Path to a kubeconfig file; empty uses in-cluster config").
		Default(defaultKubeconfig()).String()
	listenAddr := a.Flag("listen-addr", "Address the HTTP API listens on").Default(":8080").String()
	metricsAddr := a.Flag("metrics-addr", "Address metrics are served on").Default(":8081").String()
	identityBaseURL := a.Flag("identity-base-url", "Base URL of the identity service").Required().String()
	controllerNamespace := a.Flag("namespace", "Namespace this controller runs in").
		Default("nublado").String()

	if _, err := a.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error parsing commandline arguments:", err)
		a.Usage(os.Args[1:])
		os.Exit(2)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	switch *logLevel {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := config.Load(*configFile)
	if err != nil {
		level.Error(logger).Log("msg", "loading configuration failed", "err", err)
		os.Exit(1)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", *kubeconfig)
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
		os.Exit(1)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		level.Error(logger).Log("msg", "building kubernetes client failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg.MustRegister(prepull.Collectors()...)
	reg.MustRegister(lab.Collectors()...)
	reg.MustRegister(events.Collectors()...)

	users := usermap.New()
	broker := events.New(100)
	inv := inventory.New(client, cfg.InventoryConfig(), log.With(logger, "component", "inventory"))

	labCfg := cfg.LabConfig()
	secretSource := lab.ClusterSecretSource(client, *controllerNamespace, labCfg.SecretRefs)
	manager := lab.New(client, labCfg, users, broker, *controllerNamespace, secretSource, log.With(logger, "component", "lab"))

	prepullCfg := cfg.PrepullConfig()
	prepullCfg.Namespace = *controllerNamespace
	prepullCfg.PodNamePrefix = "prepull"
	reconciler := prepull.New(client, inv, cfg.MenuConfig(), prepullCfg, log.With(logger, "component", "prepull"))

	api := &httpapi.API{
		Users:    users,
		Manager:  manager,
		Broker:   broker,
		Inv:      inv,
		MenuCfg:  cfg.MenuConfig(),
		Identity: httpapi.NewGafaelfawrIdentity(*identityBaseURL),
		Logger:   log.With(logger, "component", "httpapi"),
	}

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received termination signal, exiting gracefully")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	{
		server := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}
	{
		server := &http.Server{Addr: *listenAddr, Handler: api.NewMux()}
		g.Add(func() error {
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return reconciler.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exit with error", "err", err)
		os.Exit(1)
	}
}

func defaultKubeconfig() string {
	if home := homedir.HomeDir(); home != "" {
		return filepath.Join(home, ".kube", "config")
	}
	return ""
}
