// Package crawler implements the crawl orchestrator: the frontier, the visited
// set, depth and scope accounting, fetch retries and the hand-off to the
// extraction, postprocessing and persistence stages that turn pages into
// markdown files.
package crawler
