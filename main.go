package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/czerwonk/latency_lab/agent"
	"github.com/czerwonk/latency_lab/api"
	"github.com/czerwonk/latency_lab/config"
	"github.com/czerwonk/latency_lab/engine"
	"github.com/czerwonk/latency_lab/probe"
	"github.com/czerwonk/latency_lab/store"
)

const version string = "0.1.0"

var (
	showVersion   = kingpin.Flag("version", "Print version information").Default().Bool()
	listenAddress = kingpin.Flag("web.listen-address", "Address on which to expose metrics, API and dashboard").Default(":9427").String()
	metricsPath   = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics").Default("/metrics").String()
	ingestRate    = kingpin.Flag("web.ingest-rate", "Maximum sample batches accepted per second (0 if unlimited)").Default("10").Float64()
	ingestBurst   = kingpin.Flag("web.ingest-burst", "Burst size for sample batch ingestion").Default("20").Int()
	configFile    = kingpin.Flag("config.path", "Path to config file").Default("").String()
	configWatch   = kingpin.Flag("config.watch", "Reload targets when the config file changes").Default("true").Bool()
	pingInterval  = kingpin.Flag("ping.interval", "Interval between probe rounds").Default("5s").Duration()
	pingTimeout   = kingpin.Flag("ping.timeout", "Timeout for a single probe").Default("2s").Duration()
	pingSize      = kingpin.Flag("ping.size", "Payload size for ICMP echo requests").Default("56").Uint16()
	historySize   = kingpin.Flag("ping.history-size", "Number of results to remember per target").Default("50").Int()
	pingMode      = kingpin.Flag("ping.mode", "Probe mechanism. Valid choices: [icmp, tcp]").Default(probe.ModeICMP).String()
	tcpPort       = kingpin.Flag("ping.tcp-port", "Port used by the tcp probe for targets without port").Default("443").Int()
	idInterval    = kingpin.Flag("ping.id-change-interval", "Interval for checking whether to switch the ICMP ID (0 if disabled)").Default("0s").Duration()
	idThreshold   = kingpin.Flag("ping.id-change-threshold", "Loss ratio above which the ICMP ID is switched (0 to always switch)").Default("0").Float64()
	dnsRefresh    = kingpin.Flag("dns.refresh", "Interval for refreshing DNS records of targets (0 if disabled)").Default("1m").Duration()
	dnsNameServer = kingpin.Flag("dns.nameserver", "DNS server used to resolve hostname of targets").Default("").String()
	storeDriver   = kingpin.Flag("store.driver", "Series store driver. Valid choices: [memory, sqlite, none]").Default("memory").String()
	storePath     = kingpin.Flag("store.path", "Path of the sqlite database").Default("./latency.db").String()
	storeCapacity = kingpin.Flag("store.capacity", "Samples kept per target by the memory store").Default("1000").Int()
	kafkaBrokers  = kingpin.Flag("agent.kafka-brokers", "Kafka brokers to consume remote agent samples from").Strings()
	kafkaTopic    = kingpin.Flag("agent.kafka-topic", "Kafka topic of remote agent samples").Default(agent.DefaultTopic).String()
	kafkaGroup    = kingpin.Flag("agent.kafka-group", "Kafka consumer group").Default("latency_lab").String()
	tailnet       = kingpin.Flag("tailscale.tailnet", "Add all devices of this tailnet as targets (needs TS_API_KEY)").Default("").String()
	logLevel      = kingpin.Flag("log.level", "Only log messages with the given severity or above. Valid levels: [trace, debug, info, warn, error, fatal]").Default("info").String()
	logFormat     = kingpin.Flag("log.format", "Log format. Valid choices: [text, json]").Default("text").String()
	rttMode       = kingpin.Flag("metrics.rttunit", "Export round trip times as either millis (default), or seconds, or both. Valid choices: [ms, s, both]").Default("ms").String()
	targets       = kingpin.Arg("targets", "A list of targets to probe").Strings()
)

func main() {
	kingpin.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	setLogLevel(*logLevel)
	setLogFormat(*logFormat)

	rttMetricsScale := rttUnitFromString(*rttMode)
	if rttMetricsScale == rttInvalid {
		kingpin.FatalUsage("metrics.rttunit must be `ms` for millis, or `s` for seconds, or `both`")
	}
	log.Infof("rtt units: %s", rttMetricsScale)

	if mpath := *metricsPath; mpath == "" {
		log.Warnln("web.telemetry-path is empty, correcting to `/metrics`")
		mpath = "/metrics"
		metricsPath = &mpath
	} else if mpath[0] != '/' {
		mpath = "/" + mpath
		metricsPath = &mpath
	}

	cfg, err := loadConfig()
	if err != nil {
		kingpin.FatalUsage("could not load config.path: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var discovered []config.TargetConfig
	if *tailnet != "" {
		hosts, err := tsDiscover(ctx, *tailnet)
		if err != nil {
			log.Errorf("tailscale discovery failed: %v", err)
		}
		discovered = config.TargetsFromAddrs(hosts)
		cfg.Targets = append(cfg.Targets, discovered...)
	}

	if err := validateConfig(cfg); err != nil {
		kingpin.FatalUsage("%v", err)
	}

	if err := run(ctx, cfg, discovered, rttMetricsScale); err != nil {
		log.Errorln(err)
		os.Exit(2)
	}
}

func printVersion() {
	fmt.Println("latency_lab")
	fmt.Printf("Version: %s\n", version)
	fmt.Println("Author(s): Philip Berndroth, Daniel Czerwonk")
	fmt.Println("Latency, jitter and loss prober")
}

func validateConfig(cfg *config.Config) error {
	if len(cfg.Targets) == 0 && len(cfg.Agent.Brokers) == 0 {
		log.Warnln("no targets and no agent brokers configured, waiting for samples over HTTP")
	}
	if cfg.Ping.History < 1 {
		return errors.New("ping.history-size must be greater than 0")
	}
	if cfg.Ping.Timeout <= 0 {
		return errors.New("ping.timeout must be greater than 0")
	}
	if cfg.Ping.Interval <= 0 {
		return errors.New("ping.interval must be greater than 0")
	}
	if cfg.Ping.Size > 65500 {
		return errors.New("ping.size must be between 0 and 65500")
	}
	if cfg.Ping.Mode != probe.ModeICMP && cfg.Ping.Mode != probe.ModeTCP {
		return fmt.Errorf("ping.mode must be `%s` or `%s`", probe.ModeICMP, probe.ModeTCP)
	}

	return nil
}

// run wires the engine and its collaborators and blocks until ctx is
// cancelled. discovered targets are kept across config reloads.
func run(ctx context.Context, cfg *config.Config, discovered []config.TargetConfig, scale rttUnit) error {
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		Capacity:    cfg.Store.Capacity,
		BusyTimeout: cfg.Store.BusyTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("cannot open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	prober, err := probe.New(probe.Config{
		Mode:        cfg.Ping.Mode,
		PayloadSize: cfg.Ping.Size,
		TCPPort:     cfg.Ping.TCPPort,
		DNSRefresh:  cfg.DNS.Refresh.Duration(),
		Resolver:    probe.NewResolver(cfg.DNS.Nameserver),
	})
	if err != nil {
		return fmt.Errorf("cannot start probing: %w", err)
	}
	defer prober.Close()

	var es engine.Store
	if st != nil {
		es = st
	}
	eng := engine.New(engine.Options{
		ProbeTimeout:  cfg.Ping.Timeout.Duration(),
		RoundInterval: cfg.Ping.Interval.Duration(),
		WindowSize:    cfg.Ping.History,
		Targets:       cfg.TargetAddrs(),
	}, prober, es, log.WithField("component", "engine"))

	labels := newCustomLabelSet(cfg.Targets)
	reg := prometheus.NewRegistry()
	reg.MustRegister(newLatencyCollector(eng, labels, scale))

	l := log.New()
	l.Level = log.ErrorLevel
	metrics := promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      l,
		ErrorHandling: promhttp.ContinueOnError,
	})

	srv := &http.Server{
		Addr: *listenAddress,
		Handler: api.New(eng, api.Options{
			MetricsPath:    *metricsPath,
			MetricsHandler: metrics,
			IngestRate:     *ingestRate,
			IngestBurst:    *ingestBurst,
			WindowSize:     cfg.Ping.History,
			Version:        version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})
	g.Go(func() error {
		log.Infof("Starting latency_lab (Version: %s)", version)
		log.Infof("Listening on %s (metrics at %s)", *listenAddress, *metricsPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if len(cfg.Agent.Brokers) > 0 {
		consumer, err := agent.NewConsumer(agent.Config{
			Brokers: cfg.Agent.Brokers,
			Topic:   cfg.Agent.Topic,
			GroupID: cfg.Agent.GroupID,
		}, eng)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	if *configFile != "" && *configWatch {
		g.Go(func() error {
			return config.Watch(ctx, *configFile, func(c *config.Config) {
				addFlagToConfig(c)
				c.Targets = append(c.Targets, discovered...)
				eng.SetTargets(c.TargetAddrs())
				labels.setTargets(c.Targets)
			})
		})
	}

	if icmp, ok := prober.(*probe.ICMPProber); ok && *idInterval > 0 {
		g.Go(func() error {
			startPingIdAutoUpdate(ctx, *idInterval, *idThreshold, icmp, eng)
			return nil
		})
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf("could not notify systemd: %v", err)
	} else if sent {
		log.Debugln("notified systemd about readiness")
	}

	return g.Wait()
}

func startPingIdAutoUpdate(ctx context.Context, interval time.Duration, threshold float64, icmp *probe.ICMPProber, eng *engine.Engine) {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			log.Debugln("Checking for Ping ID update")
			if overLossThreshold(eng.SnapshotAll(), threshold) {
				icmp.RotateID()
			}
		}
	}
}

// overLossThreshold reports whether the sample weighted loss ratio over all
// targets reaches threshold.
func overLossThreshold(stats []engine.TargetStats, threshold float64) bool {
	if threshold <= 0 {
		return true
	}

	var sent, lost float64
	for _, st := range stats {
		sent += float64(st.Samples)
		lost += float64(st.Samples) * st.LossPct / 100
	}
	if sent == 0 {
		return false
	}
	ratio := lost / sent

	log.Debugf("packet loss: %f (threshold=%f)", ratio, threshold)
	return ratio >= threshold
}

func loadConfig() (*config.Config, error) {
	if *configFile == "" {
		cfg := config.Config{}
		addFlagToConfig(&cfg)

		return &cfg, nil
	}

	cfg, err := config.Load(*configFile)
	if err == nil {
		addFlagToConfig(cfg)
	}

	return cfg, err
}

// addFlagToConfig updates cfg with command line flag values, unless the
// config has non-zero values.
func addFlagToConfig(cfg *config.Config) {
	if len(cfg.Targets) == 0 {
		cfg.Targets = config.TargetsFromAddrs(*targets)
	}
	if cfg.Ping.History == 0 {
		cfg.Ping.History = *historySize
	}
	if cfg.Ping.Interval == 0 {
		cfg.Ping.Interval.Set(*pingInterval)
	}
	if cfg.Ping.Timeout == 0 {
		cfg.Ping.Timeout.Set(*pingTimeout)
	}
	if cfg.Ping.Size == 0 {
		cfg.Ping.Size = *pingSize
	}
	if cfg.Ping.Mode == "" {
		cfg.Ping.Mode = *pingMode
	}
	if cfg.Ping.TCPPort == 0 {
		cfg.Ping.TCPPort = *tcpPort
	}
	if cfg.DNS.Refresh == 0 {
		cfg.DNS.Refresh.Set(*dnsRefresh)
	}
	if cfg.DNS.Nameserver == "" {
		cfg.DNS.Nameserver = *dnsNameServer
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = *storeDriver
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = *storePath
	}
	if cfg.Store.Capacity == 0 {
		cfg.Store.Capacity = *storeCapacity
	}
	if len(cfg.Agent.Brokers) == 0 {
		cfg.Agent.Brokers = *kafkaBrokers
	}
	if cfg.Agent.Topic == "" {
		cfg.Agent.Topic = *kafkaTopic
	}
	if cfg.Agent.GroupID == "" {
		cfg.Agent.GroupID = *kafkaGroup
	}
}
