package main

import (
	"log/slog"
	"os"

	"recmig/internal/metrics"
	"recmig/internal/metrics/datadog"
	"recmig/internal/metrics/prompush"
)

// setupMetrics installs the backend chosen by flag, then env, and returns the
// flush to run when the command ends. Init failures leave the nop backend.
func setupMetrics(rf *rootFlags, job string, log *slog.Logger) func() {
	name := firstNonEmpty(rf.metricsBackend, os.Getenv("METRICS_BACKEND"))
	if job == "" {
		job = "recmig_job"
	}

	var (
		b   metrics.Backend
		err error
	)
	switch name {
	case "pushgateway":
		url := firstNonEmpty(rf.pushGatewayURL, os.Getenv("PUSHGATEWAY_URL"), "http://localhost:9091")
		b, err = prompush.NewBackend(job, url)
		log.Debug("metrics: pushgateway", "url", url, "job", job)
	case "datadog":
		addr := firstNonEmpty(rf.ddAgentAddr, os.Getenv("DD_AGENT_ADDR"), "127.0.0.1:8125")
		b, err = datadog.NewBackend(datadog.Config{Addr: addr, Namespace: "recmig.", GlobalTags: []string{"job:" + job}})
		log.Debug("metrics: datadog", "addr", addr, "job", job)
	case "", "none":
		log.Debug("metrics: disabled")
		return func() {}
	default:
		log.Warn("metrics: unknown backend; metrics disabled", "backend", name)
		return func() {}
	}
	if err != nil {
		log.Warn("metrics: init failed; using nop", "backend", name, "err", err)
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush error", "err", err)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
