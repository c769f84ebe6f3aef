// Package mimir embeds a Meilisearch-compatible search engine as a managed
// local subprocess and exposes typed handles for indexing and searching
// schemaless documents.
//
// The package owns the engine's lifecycle end to end: it locates the engine
// binary, locks the data directory, starts the process, waits for readiness,
// and tears it down again. Applications only deal with named instances and
// index handles:
//
//	inst, err := mimir.DefaultInstance(ctx, mimir.WithDataDirectory("/var/lib/myapp/search"))
//	if err != nil { ... }
//	defer mimir.DestroyInstance(inst.Name())
//
//	movies := inst.Index("movies")
//	task, err := movies.AddDocuments(ctx, docs)
//	if err != nil { ... }
//	if _, err := inst.WaitForTask(ctx, task.UID); err != nil { ... }
//
//	res, err := movies.Search(ctx, mimir.Query{Query: "jurassic park"})
//
// Writes are accepted asynchronously: they return a Task immediately and the
// engine applies them in submission order per index. Callers that need
// read-after-write consistency await the task before reading. Reads (search,
// document retrieval) are synchronous.
//
// All instances live in a process-wide registry keyed by name. At most one
// live engine is bound to a given data directory at a time, enforced with a
// lock file, so two processes cannot corrupt each other's data.
package mimir
