/*
Package metrics exports fusekv activity to Prometheus and serves a health
endpoint for the store connection.

# Overview

A Collector owns a private Prometheus registry. It implements the observer
interfaces of the dispatcher, the store manager, the listing limiter and the
raw command channel, so a single value is handed to each of them at startup:

	collector, _ := metrics.NewCollector(cfg, nil, logger)
	manager, _ := store.NewFromConfig(kvcfg, logger, collector)
	collector.SetHealthSource(manager)
	d := dispatch.New(cfg, manager, dispatch.Options{
		Observer:        collector,
		ListingObserver: collector,
		RawObserver:     collector,
	})

A disabled collector accepts every observation and records nothing.

# Exported Metrics

	fusekv_operations_total{operation,result}   counter, result is "ok" or the lowercased error code
	fusekv_operation_duration_seconds{operation} histogram
	fusekv_bytes_total{direction}               counter, direction is "read" or "write"
	fusekv_store_failovers_total                counter
	fusekv_store_state{state}                   gauge, 1 for the current state
	fusekv_listing_truncated_total              counter
	fusekv_raw_commands_total{result}           counter

# HTTP Endpoints

	/metrics            Prometheus exposition (OpenMetrics negotiated)
	/health             JSON store status; 200 when connected, 503 otherwise
	/debug/operations   plain text per-operation summary
*/
package metrics
