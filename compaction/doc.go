// Package compaction keeps long-running chat sessions inside an LLM's
// context window by collapsing old messages into a single summary.
//
// The lifecycle has two halves. After every assistant turn the calling
// layer reports the session's token count via Compactor.CheckAndMark,
// which arms the chat's pending-compaction flag once the trigger
// threshold is crossed. On a later turn (or from the maintenance
// sweeper) Compactor.Compact runs the armed compaction: it resolves the
// LLM-visible window of the message log, serializes it to a durable
// backup transcript, asks the external summarizer for a summary, and
// commits the summary back into the log atomically, deleting the
// messages it subsumes.
//
// The backup transcript is always written and verified before anything
// destructive happens, so the full history is recoverable even when
// summarization fails.
package compaction
