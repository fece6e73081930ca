// Package crawler defines the types and small interfaces shared by the crawl
// pipeline: frontier entries, page results, artifact references, the render
// capability, the retry policy and URL identity rules. The coordinator, worker,
// frontier and storage packages all speak in these terms.
package crawler
