// Command coordinatord runs the ordered distributed transaction
// coordinator as a standalone daemon: it dials every configured
// partition, serves Prometheus metrics and a liveness endpoint, and
// blocks until terminated. Flag/config/log/signal wiring follows
// kv/tinykv-server/main.go, restructured around a cobra root command
// the way go-ycsb/cmd/go-ycsb/main.go structures its CLI.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ngaut/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orderdtxn/coordinator/config"
	"github.com/orderdtxn/coordinator/coordinator"
	"github.com/orderdtxn/coordinator/partition"
	"github.com/orderdtxn/coordinator/timer"
	"github.com/orderdtxn/coordinator/transport"
)

var (
	configPath       string
	partitionAddrs   []string
	statusAddr       string
	roundTimeout     time.Duration
	strictInvariants bool
)

func main() {
	root := &cobra.Command{
		Use:   "coordinatord",
		Short: "Client-side coordinator for ordered distributed transactions over fixed partitions",
		Run:   run,
	}
	flags := root.Flags()
	flags.StringVar(&configPath, "config", "", "TOML config file path")
	flags.StringSliceVar(&partitionAddrs, "partition", nil, "partition address, repeatable; overrides the config file's list")
	flags.StringVar(&statusAddr, "status-addr", "", "address to serve /metrics and /status on; overrides the config file")
	flags.DurationVar(&roundTimeout, "round-timeout", 0, "per-round response deadline; zero disables it")
	flags.BoolVar(&strictInvariants, "strict-invariants", false, "run the debug-only full-queue invariant scan before every multi-partition dispatch")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, _ []string) {
	conf := loadConfig()
	if len(partitionAddrs) > 0 {
		conf.PartitionAddrs = partitionAddrs
	}
	if statusAddr != "" {
		conf.StatusAddr = statusAddr
	}
	if cmd.Flags().Changed("round-timeout") {
		conf.RoundTimeout = roundTimeout
	}
	if cmd.Flags().Changed("strict-invariants") {
		conf.StrictInvariants = strictInvariants
	}

	if err := conf.Validate(); err != nil {
		log.Fatal(err)
	}
	log.SetLevelByString(conf.LogLevel)
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Infof("starting coordinatord, conf=%+v", conf)

	server := transport.NewTCPServer()
	handles := make([]transport.ConnectionHandle, len(conf.PartitionAddrs))
	for i, addr := range conf.PartitionAddrs {
		h, err := server.Dial(addr)
		if err != nil {
			log.Fatalf("dial partition %d at %s: %v", i, addr, err)
		}
		handles[i] = h
	}

	registry, err := partition.New(handles)
	if err != nil {
		log.Fatal(err)
	}

	co := coordinator.New(registry, server, timer.New(), conf.RoundTimeout, conf.StrictInvariants)

	stop := make(chan struct{})
	go co.Run(stop)

	go serveStatus(conf.StatusAddr)
	handleSignal(co, stop)

	if err := server.Wait(); err != nil {
		log.Warnf("partition connections closed: %v", err)
	}
	log.Info("coordinatord stopped")
}

func loadConfig() *config.Config {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, conf); err != nil {
			log.Fatal(err)
		}
	}
	return conf
}

func serveStatus(addr string) {
	log.Infof("serving /status and /metrics on %v", addr)
	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}

func handleSignal(co *coordinator.Coordinator, stop chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigCh
	log.Infof("got signal [%s] to exit", sig)
	co.Post(func() {
		co.Close()
		close(stop)
	})
}
