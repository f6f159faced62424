// Command autoscaler runs the Kinesis shard autoscaler daemon: one
// Decision Engine per configured stream policy, a health endpoint, and
// a Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/sirupsen/logrus"

	"kinesis-shard-autoscaler/internal/config"
	"kinesis-shard-autoscaler/internal/controller"
	"kinesis-shard-autoscaler/internal/engine"
	"kinesis-shard-autoscaler/internal/healthsrv"
	"kinesis-shard-autoscaler/internal/metricsource"
	"kinesis-shard-autoscaler/internal/notify"
	"kinesis-shard-autoscaler/internal/streamcontrol"
	"kinesis-shard-autoscaler/internal/telemetry"
)

func main() {
	logFormat := flag.String("log-format", "json", "log output format: json or text")
	healthAddr := flag.String("health-addr", ":8080", "address for the HTTP health endpoint")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for the Prometheus /metrics endpoint")
	flag.Parse()

	log := logrus.New()
	if *logFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policies, err := config.Load(ctx, "AUTOSCALER_CONFIG_URL")
	if err != nil {
		log.WithError(err).Fatal("failed to load stream policies")
	}
	log.Infof("loaded %d stream policies", len(policies))

	engines, err := buildEngines(ctx, policies, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire stream adapters")
	}

	suppressAbort := config.SuppressAbortOnFatal("AUTOSCALER_SUPPRESS_ABORT_ON_FATAL")
	ctrl := controller.NewFromEngines(engines, suppressAbort, log)
	ctrl.Start(ctx)

	health := healthsrv.New(ctrl, log)
	healthServer := &http.Server{Addr: *healthAddr, Handler: health.Handler()}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server stopped")
		}
	}()

	registry := telemetry.NewRegistry()
	metricsServer := telemetry.StartServer(*metricsAddr, registry, log)
	go collectMetricsLoop(ctx, registry, ctrl)

	log.Info("autoscaler started, press ctrl+c to shut down")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping engines...")

	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = healthServer.Shutdown(shutdownCtx)
	_ = telemetry.Shutdown(shutdownCtx, metricsServer)

	if !ctrl.Healthy() {
		log.Error("one or more engines ended with a fatal error")
		os.Exit(1)
	}
}

// buildEngines groups policies by policy.Region and resolves one set
// of AWS clients per region, so a config file spanning multiple
// regions runs each stream's control-plane/metric/notify calls
// against its own region instead of whatever region the process's
// default AWS config happens to resolve to.
func buildEngines(ctx context.Context, policies []config.StreamPolicy, log *logrus.Logger) ([]*engine.Engine, error) {
	groups := groupPoliciesByRegion(policies)

	var engines []*engine.Engine
	for _, group := range groups {
		control, metrics, notifier, err := buildRegionAdapters(ctx, group.region, log)
		if err != nil {
			return nil, err
		}
		for _, policy := range group.policies {
			engines = append(engines, engine.New(policy, metrics, control, notifier, log))
		}
	}
	return engines, nil
}

type regionGroup struct {
	region   string
	policies []config.StreamPolicy
}

// groupPoliciesByRegion partitions policies by policy.Region,
// preserving the order regions were first seen, so each region's AWS
// clients are built exactly once regardless of how many streams in
// that region are configured.
func groupPoliciesByRegion(policies []config.StreamPolicy) []regionGroup {
	index := make(map[string]int)
	var groups []regionGroup
	for _, policy := range policies {
		i, ok := index[policy.Region]
		if !ok {
			i = len(groups)
			index[policy.Region] = i
			groups = append(groups, regionGroup{region: policy.Region})
		}
		groups[i].policies = append(groups[i].policies, policy)
	}
	return groups
}

// buildRegionAdapters resolves AWS credentials for region (the SDK's
// own resolved region when region is empty) and wraps Kinesis,
// CloudWatch, and SNS clients in this module's adapter contracts.
func buildRegionAdapters(ctx context.Context, region string, log *logrus.Logger) (streamcontrol.StreamControl, metricsource.Source, notify.Notifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, nil, err
	}

	kinesisClient := kinesis.NewFromConfig(awsCfg)
	cloudwatchClient := cloudwatch.NewFromConfig(awsCfg)
	snsClient := sns.NewFromConfig(awsCfg)

	control := streamcontrol.NewKinesis(kinesisClient, log)
	metrics := metricsource.NewCloudWatch(cloudwatchClient)
	notifier := notify.NewSNS(snsClient)
	return control, metrics, notifier, nil
}

func collectMetricsLoop(ctx context.Context, registry *telemetry.Registry, ctrl *controller.Controller) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Collect(ctrl)
		}
	}
}
