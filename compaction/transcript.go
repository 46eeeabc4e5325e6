package compaction

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loomchat/compactor/types"
)

// TruncationSuffix is appended to tool result bodies that exceed the
// formatter's limit.
const TruncationSuffix = "\n..."

// Long-form tool block markers as they appear in raw message content.
// MCP tool invocations are recorded inline by the chat layer with the
// originating server and tool named as attributes.
var (
	toolCallRe   = regexp.MustCompile(`(?s)<mcp_tool_call\b([^>]*)>(.*?)</mcp_tool_call>`)
	toolResultRe = regexp.MustCompile(`(?s)<mcp_tool_result\b([^>]*)>(.*?)</mcp_tool_result>`)

	serverAttrRe = regexp.MustCompile(`\bserver="([^"]*)"`)
	toolAttrRe   = regexp.MustCompile(`\btool="([^"]*)"`)
)

// Formatter converts raw messages into a redacted, tag-annotated
// transcript that is safe to show to an LLM or a human without
// re-exploding the context with raw tool payloads. It is a pure text
// transform with no storage dependencies.
type Formatter struct {
	// ToolResultLimit is the character limit L for tool result bodies.
	// A body of exactly L characters is untouched; a body of L+1 is cut
	// to L characters plus the truncation suffix.
	ToolResultLimit int
}

// NewFormatter creates a Formatter. A non-positive limit selects the
// default.
func NewFormatter(toolResultLimit int) *Formatter {
	if toolResultLimit <= 0 {
		toolResultLimit = DefaultToolResultLimit
	}
	return &Formatter{ToolResultLimit: toolResultLimit}
}

// Normalize rewrites every paired long-form tool block in content into its
// canonical short form, truncating verbose tool result bodies. Prose
// outside the blocks is preserved verbatim and in original order. Content
// with no recognizable blocks (including unpaired or malformed markers) is
// returned unchanged rather than rejected.
func (f *Formatter) Normalize(content string) string {
	out := toolCallRe.ReplaceAllStringFunc(content, func(block string) string {
		sub := toolCallRe.FindStringSubmatch(block)
		server, tool := attrValue(serverAttrRe, sub[1]), attrValue(toolAttrRe, sub[1])
		return fmt.Sprintf(`<tool-use server="%s" tool="%s">%s</tool-use>`, server, tool, sub[2])
	})

	out = toolResultRe.ReplaceAllStringFunc(out, func(block string) string {
		sub := toolResultRe.FindStringSubmatch(block)
		server, tool := attrValue(serverAttrRe, sub[1]), attrValue(toolAttrRe, sub[1])

		body := sub[2]
		runes := []rune(body)
		chars := len(runes)

		truncated := ""
		if chars > f.ToolResultLimit {
			body = string(runes[:f.ToolResultLimit]) + TruncationSuffix
			truncated = ` truncated="true"`
		}

		return fmt.Sprintf(`<tool-result server="%s" tool="%s" chars="%d"%s>%s</tool-result>`,
			server, tool, chars, truncated, body)
	})

	return out
}

// Transcript assembles an ordered list of messages into the backup
// document: an enclosing record carrying the chat ID, message count, and
// compaction timestamp, with one child record per message in input order.
// Message content is tag-normalized; everything else is literal. The
// result is balanced even for an empty message list.
func (f *Formatter) Transcript(chatID string, compactedAt time.Time, messages []types.CompactionMessage) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<compaction_transcript chat_id=\"%s\" message_count=\"%d\" compacted_at=\"%s\">\n",
		chatID, len(messages), compactedAt.UTC().Format(time.RFC3339))

	for _, msg := range messages {
		fmt.Fprintf(&b, "<message role=\"%s\">\n%s\n</message>\n", msg.Role, f.Normalize(msg.Content))
	}

	b.WriteString("</compaction_transcript>\n")
	return b.String()
}

// PlainText renders messages as labelled plain text, the form handed to
// the external summarizer.
func PlainText(messages []types.CompactionMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		label := "User"
		if msg.Role == types.RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func attrValue(re *regexp.Regexp, attrs string) string {
	if m := re.FindStringSubmatch(attrs); m != nil {
		return m[1]
	}
	return ""
}
