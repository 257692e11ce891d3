// Command camara-crawler ingests Câmara dos Deputados open data.
//
// Architecture overview:
//   - Control API: internal/api exposes start, stop, status, and count per
//     resource plus health, metrics, and run history. internal/dispatcher
//     routes each request to the controller of the named resource.
//   - Crawl loop: internal/crawler.Controller pages through a listing,
//     compares each record's change marker with the stored one, and only
//     for changed records fetches details and upserts the documents.
//   - Pipelines: internal/camara adapts deputies, propositions, and votes
//     to the loop. Upstream calls go through the colly fetcher with a per
//     host rate limit and a linear retry for transient failures.
//   - Persistence: Mongo (default), Postgres, or memory document stores.
//     Run history lives in Postgres crawl_runs when a DSN is configured.
//   - Progress: crawl lifecycle events flow through a batched hub to log,
//     Prometheus, run history, and Pub/Sub sinks.
//
// Run locally: go run . serve --config config.yaml, or go run . crawl deputies.
package main

import (
	"github.com/JakeFAU/camara-crawler/cmd"
)

func main() {
	cmd.Execute()
}
