// Package crawler implements the batch crawl engine: it fetches a seed page's
// content, discovers the seed's outbound links, fetches their content through
// the rate-limited extraction service in fixed-size concurrent batches, and
// hands the results to an archive builder. The package also defines the
// shared types, interfaces and content rules used by the fetchers, the
// archive builder and the HTTP layer.
package crawler
