// Package crawler implements the incremental ingestion engine: the resource
// pipeline contract, the retry policy, the paginator, the change detector,
// and the controller that drives one crawl loop per resource.
package crawler
