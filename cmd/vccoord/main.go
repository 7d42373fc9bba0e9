package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"gitlab.com/gitlab-org/vccoord/internal/config"
	"gitlab.com/gitlab-org/vccoord/internal/coordinator"
	internallog "gitlab.com/gitlab-org/vccoord/internal/log"
	"gitlab.com/gitlab-org/vccoord/internal/queue"
	"gitlab.com/gitlab-org/vccoord/internal/queue/kafka"
	"gitlab.com/gitlab-org/vccoord/internal/vcs"
	"gitlab.com/gitlab-org/vccoord/internal/version"
)

var flagVersion = flag.Bool("version", false, "Print version and exit")

func flagUsage() {
	fmt.Println(version.GetVersionString())
	fmt.Printf("Usage: %v [OPTIONS] configfile\n", os.Args[0])
	flag.PrintDefaults()
}

// registerServerVersionPromGauge registers a label with the current server
// version, making it easy to see what versions are running across a cluster.
func registerServerVersionPromGauge() {
	buildInfoGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vccoord_build_info",
		Help: "Current build info for this service",
		ConstLabels: prometheus.Labels{
			"version": version.GetVersion(),
			"built":   version.GetBuildTime(),
		},
	})

	prometheus.MustRegister(buildInfoGauge)
	buildInfoGauge.Set(1)
}

func loadConfig(configPath string) (config.Cfg, error) {
	cfgFile, err := os.Open(configPath)
	if err != nil {
		return config.Cfg{}, err
	}
	defer cfgFile.Close()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Cfg{}, err
	}

	return cfg, cfg.Validate()
}

func main() {
	flag.Usage = flagUsage
	flag.Parse()

	if *flagVersion {
		fmt.Println(version.GetVersionString())
		os.Exit(0)
	}

	if flag.NArg() != 1 || flag.Arg(0) == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.WithField("version", version.GetVersionString()).Info("Starting vccoord")
	registerServerVersionPromGauge()

	configPath := flag.Arg(0)
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.WithError(err).WithField("config_path", configPath).Fatal("load config")
	}

	internallog.Configure(internallog.Loggers, cfg.Logging.Format, cfg.Logging.Level)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("vccoord terminated")
	}
}

func run(cfg config.Cfg) error {
	if cfg.PrometheusListenAddr != "" {
		log.WithField("address", cfg.PrometheusListenAddr).Info("Starting prometheus listener")

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.PrometheusListenAddr, nil); err != nil {
				log.WithError(err).Error("prometheus listener failed")
			}
		}()
	}

	client, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return err
	}
	defer client.Close()

	consumer, err := kafka.NewConsumer(client, cfg.Queue.Group, cfg.Queue.Topic, internallog.Default())
	if err != nil {
		return err
	}

	producer, err := kafka.NewProducer(client)
	if err != nil {
		return err
	}
	defer producer.Close()

	gateway, err := vcs.NewLocalGateway(cfg.StorageDir)
	if err != nil {
		return err
	}

	codec, err := vcs.NewJSONSettingsCodec()
	if err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		PollInterval:          cfg.Queue.PollInterval.Duration(),
		PackProcessingTimeout: cfg.Queue.PackProcessingTimeout.Duration(),
		AbortPendingOnAdmin:   cfg.AbortPendingOnAdmin,
	}, gateway, codec, consumer, producer, internallog.Default())

	notifier := &queue.PartitionNotifier{}
	coord.RegisterPartitionListener(notifier)

	// Until an external membership mechanism publishes assignments, this
	// node owns every partition of the request topic.
	partitions, err := client.Partitions(cfg.Queue.Topic)
	if err != nil {
		return err
	}
	notifier.Publish(queue.PartitionChangeEvent{
		Service:    queue.ServiceVersionControl,
		Partitions: partitions,
	})

	coord.Start()
	defer coord.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.WithField("signal", sig).Info("Shutting down")

	return nil
}
