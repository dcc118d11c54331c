// Package workflow runs long-lived stream processors and one-shot tasks next
// to a store.
//
// Every dispatch publishes one Emission (the post-reducer state together with
// the action that produced it). Each live processor owns a Stream with an
// unbounded mailbox, so publishing never blocks the dispatch turn and a slow
// processor never stalls its siblings.
//
// Processors are bound to two contexts: the context passed to Add (typically a
// namespace session that ends on unregister) and the scheduler generation,
// which Switch cancels wholesale. Root processors added with AddRoot are
// restarted in every new generation.
package workflow
