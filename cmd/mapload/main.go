package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"mapload/internal/config"
	"mapload/internal/engine"
	"mapload/internal/metrics"
	"mapload/internal/metrics/datadog"
	"mapload/internal/metrics/prompush"

	// register all connectors with the dbconn factory.
	// the job config specifies which to use but we need to build in support
	// for all of them.
	_ "mapload/internal/dbconn/all"
)

// main is the entry point for the mapload binary. It loads a job config,
// optionally initializes a metrics backend, and executes the run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		dogstatsdAddrFlg  string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/sample.json", "job config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, dogstatsd, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&dogstatsdAddrFlg, "dogstatsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var job config.Job
	if err := json.NewDecoder(f).Decode(&job); err != nil {
		fatalf("decode config: %v", err)
	}
	applyEnvOverrides(&job)

	// Lint the job config before doing anything else.
	issues := config.ValidateJob(job)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	// If validate flag is set, only validate the configuration and exit
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	initMetrics(job.Name, metricsBackendFlg, pushGatewayURLFlg, dogstatsdAddrFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	if *verbose {
		log.Printf("job: %s source=%s target=%s.%s scd=%d checkpoint=%s",
			job.Name, job.Source.Dialect, job.Target.Schema, job.Target.Table,
			job.Scd.Type, job.Checkpoint.Strategy)
	}

	eng, err := engine.New(job, engine.Options{Stop: signalStop()})
	if err != nil {
		log.Fatalf("%v", err)
	}
	res, err := eng.Execute(ctx)
	if err != nil {
		log.Fatalf("%v", err)
	}

	printResult(res)
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if res.Status == engine.StatusFailed {
		os.Exit(1)
	}
}

// initMetrics installs the selected metrics backend: flag → env → none.
func initMetrics(jobName, backendName, gwURL, ddAddr string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if jobName == "" {
		jobName = "mapload_job"
	}

	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(jobName, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, jobName)
		metrics.SetBackend(b)

	case "dogstatsd":
		if ddAddr == "" {
			ddAddr = os.Getenv("DOGSTATSD_ADDR")
		}
		if ddAddr == "" {
			ddAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       ddAddr,
			Namespace:  "mapload.",
			GlobalTags: []string{"job:" + jobName},
		})
		if err != nil {
			log.Printf("metrics: failed to init dogstatsd backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", ddAddr, backendName, jobName)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

// signalStop turns SIGINT/SIGTERM into a polled stop flag. The run is not
// interrupted mid-chunk; the engine stops dispatching new chunks.
func signalStop() engine.StopFunc {
	var stopped atomic.Bool
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		log.Printf("stop requested, letting in-flight chunks finish")
		stopped.Store(true)
		signal.Stop(ch)
	}()
	return func(context.Context) bool { return stopped.Load() }
}

func printResult(res *engine.Result) {
	log.Printf("result: status=%s run=%s rows read=%d succeeded=%d failed=%d chunks=%d/%d skipped=%d elapsed=%s",
		res.Status, res.RunID, res.RowsRead, res.RowsSucceeded, res.RowsFailed,
		res.ChunksCompleted, res.ChunksTotal, res.ChunksSkipped, res.Elapsed.Truncate(time.Millisecond))
	for i, re := range res.Errors {
		if i >= 20 {
			log.Printf("result: ... %d more errors", len(res.Errors)-i)
			break
		}
		log.Printf("result: error chunk=%d row=%d code=%s: %s", re.Chunk, re.Row, re.Code, re.Message)
	}
	if len(res.Checkpoint) > 0 {
		log.Printf("result: checkpoint advanced to %v", res.Checkpoint)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
