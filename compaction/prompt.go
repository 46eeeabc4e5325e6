package compaction

// summarizationSystemPrompt instructs the model to produce a summary
// faithful enough for the assistant (and a human) to resume the
// conversation after the original messages are gone.
const summarizationSystemPrompt = `You are a conversation summarizer for a chat application. Your task is to create a summary of the conversation that will replace the original messages while preserving the context needed to continue it.

Structure the summary with these sections, writing "None" where a section has no content:

1. **Request and Intent**
   - What the user is trying to accomplish
   - Any constraints or requirements they stated

2. **Key Facts and Decisions**
   - Information established during the conversation
   - Choices that were made and why

3. **Work Completed**
   - What has been produced or resolved so far

4. **Open Items**
   - Questions still unanswered
   - Tasks not yet done

5. **Next Step**
   - What the assistant should do when the conversation resumes

Guidelines:
- Preserve specific details: names, numbers, file paths, exact phrasings that carry intent.
- Keep chronological order within each section.
- Do not add information that was not in the conversation.`

// buildSummarizationPrompt creates the user message for summarization.
func buildSummarizationPrompt(conversationText string) string {
	return `Summarize the following conversation according to the format in your instructions.

<conversation>
` + conversationText + `
</conversation>

The summary will replace these messages, so include everything needed to continue the conversation correctly.`
}
