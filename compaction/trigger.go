package compaction

// Trigger policy constants used by the package-level ShouldTrigger.
const (
	triggerFraction = DefaultTriggerFraction
	triggerTokenCap = DefaultTriggerTokenCap
)

// ShouldTrigger reports whether a conversation at totalTokens inside a
// model context window of contextWindow tokens must be compacted.
//
// The policy is totalTokens >= min(floor(contextWindow*0.8), 180000).
// The hard cap keeps triggering bounded even for very large context
// windows.
func ShouldTrigger(totalTokens, contextWindow int) bool {
	threshold := int(float64(contextWindow) * triggerFraction)
	if threshold > triggerTokenCap {
		threshold = triggerTokenCap
	}
	return totalTokens >= threshold
}
