// Command ibnctld is the controller daemon: it opens the State Store,
// loads the device Catalog, starts both Enforcers, the Feedback
// Controller, the metrics collector, and the submission HTTP edge, then
// runs until SIGTERM/SIGINT. Shaped on the teacher's cmd/start.go
// sequencing, as a foreground process: backgrounding and the PID file
// are handled by `ibnctl start` (cmd/ibnctl/daemon.go), which forks this
// binary, or by a process supervisor such as systemd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/orchestrator"
)

func main() {
	var (
		configFile      = flag.String("config", "", "path to an HCL controller-settings file (overrides the flags below)")
		stateDBPath     = flag.String("state-db", "/var/lib/ibnctl/state.db", "path to the SQLite state database")
		catalogDir      = flag.String("catalog-dir", "/etc/ibnctl/catalog", "directory holding devices.hcl/grammar.hcl/templates.hcl")
		iface           = flag.String("iface", "eth0", "data-plane network interface to shape")
		mqttBroker      = flag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL for the device plane")
		httpAddr        = flag.String("http-addr", ":8088", "address for the submission HTTP edge")
		feedbackPeriod  = flag.Duration("feedback-period", 15*time.Second, "feedback controller tick period")
		metricsInterval = flag.Duration("metrics-interval", 15*time.Second, "metrics snapshot interval")
		jsonLogs        = flag.Bool("json-logs", false, "emit logs as JSON instead of text")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: logging.LevelInfo, JSON: *jsonLogs, Output: os.Stderr})

	cfg, err := buildConfig(*configFile, *stateDBPath, *catalogDir, *iface, *mqttBroker, *httpAddr, *feedbackPeriod, *metricsInterval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ibnctld: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	o := orchestrator.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := o.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ibnctld: failed to start: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "ibnctld: shutdown error: %v\n", err)
		os.Exit(1)
	}
}
