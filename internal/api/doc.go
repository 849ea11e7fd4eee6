// Package api hosts the operator HTTP surface of the harvester. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /runs/{run_id} to read a run from the ledger.
package api
