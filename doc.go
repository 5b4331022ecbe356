// Package tinct incrementally computes and caches semantic classifications
// (labeled byte ranges used to colorize source code) for the documents of a
// workspace, and serves stale-but-useful results while a workspace is still
// loading.
//
// # Pipeline
//
// A request for classifications over a span passes through three tiers, each
// tried only when the previous one could not answer:
//
//  1. Scoped: when the session recorded an edit that lies inside a single
//     member body and no signature changed, only that member is
//     reclassified.
//  2. Cache: while the workspace is not yet fully loaded, a cached result for
//     the document's exact content checksum is replayed.
//  3. Computed: the classifier runs over the whole requested span.
//
// Results are never merged across tiers.
//
// # Usage
//
//	e, err := tinct.New(".tinct/cache.db", "")
//	if err != nil { ... }
//	defer e.Close()
//
//	sess := tinct.NewSession(doc.Key)
//	res, err := e.Classify(ctx, doc, doc.FullSpan(), sess)
//
//	// After an edit:
//	sess.RecordEdit(change)
//	res, err = e.Classify(ctx, edited, edited.FullSpan(), sess)
//	// res.Tagged is the region whose tags should be replaced.
//
// # Write-behind
//
// [Engine.PersistDocument] classifies a whole document and writes it to the
// workspace's cache, skipping documents whose persisted checksum already
// matches. [Engine.WarmDirectory] does the same for every supported file
// under a directory, with bounded concurrency and one batched commit.
//
// # Scripts
//
// Classification rules live in Risor scripts, one per language, at
// classify/{language}.risor. The scripts embedded in the scripts package are
// used unless a directory or fs.FS is configured. When the scripts change,
// persisted classifications produced by the old scripts are purged on the
// next [New].
package tinct
