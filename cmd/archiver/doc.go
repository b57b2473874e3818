// Command archiver periodically fetches images from the configured sources
// and keeps a pruned, timestamped archive per source on local disk.
//
// Architecture overview:
//   - Registry: sources come from sources.url/sources.id or the multi-source sources.spec list
//     ("id=url" or bare "url", separated by ',' or ';'). Each source archives into <root>/<id>/images.
//   - Scheduler: one goroutine visits every source in order once per cycle. A fetch is retried with
//     factor^attempt second backoff; a success is committed through a hidden temp file and a rename,
//     the latest pointer is moved, and the retention sweep runs for that directory.
//   - Fetchers: HTTP sources go through the Colly fetcher; sources listed in headless.sources are
//     captured as PNG screenshots through chromedp.
//   - Hooks: every committed capture may be copied to a local directory and/or a GCS bucket, recorded
//     in a Postgres ledger, and announced on a Pub/Sub topic. Hook failures never undo a capture.
//   - Observability: zap logs carry source and cycle ids; progress events feed Prometheus, debug logs
//     and the status table served by the ops API (server.port > 0).
//
// Usage:
//
//	archiver [-config path/to/config.yaml] [-env-file .env] [-once]
//
// Configuration keys may also be set through ARCHIVER_* environment variables, and the bare names
// older deployments use (IMAGE_URL, SOURCES, STORAGE_DIR, INTERVAL_SECONDS, MAX_FILES, ...) still work.
//
// Exit codes: 0 on a clean shutdown or after a single -once cycle, 1 on a
// configuration or startup failure, 2 when no source is configured.
package main
