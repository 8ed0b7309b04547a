package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/casr-dev/casr/pkg/ir"
)

const (
	enrichmentAuthor  = "casr-enrichment"
	recentSummaryCount = 4
	summaryCharLimit   = 180
)

// Enrich prepends two synthetic System messages to a session converted
// between providers: a conversion notice and a compact recent-conversation
// summary. Enrichment only happens when explicitly requested — it is never
// automatic.
func Enrich(session *ir.CanonicalSession, sourceProvider, targetProvider string) {
	notice := buildNoticeMessage(*session, sourceProvider, targetProvider)
	summary := buildSummaryMessage(*session, sourceProvider, targetProvider)

	session.Messages = append([]ir.CanonicalMessage{summary}, session.Messages...)
	session.Messages = append([]ir.CanonicalMessage{notice}, session.Messages...)
	ir.ReindexMessages(session.Messages)
}

func buildNoticeMessage(session ir.CanonicalSession, sourceProvider, targetProvider string) ir.CanonicalMessage {
	noticeTS := minTimestamp(session.Messages) - 2
	lines := []string{
		"[casr synthetic context]",
		fmt.Sprintf("This session was originally created in %s and converted to %s format by casr.", sourceProvider, targetProvider),
		fmt.Sprintf("Original session ID: %s.", session.SessionID),
		"Some provider-specific context may have been lost in conversion.",
		fmt.Sprintf("Original message count: %d.", len(session.Messages)),
	}
	if session.Workspace != nil {
		lines = append(lines, fmt.Sprintf("Workspace: %s", *session.Workspace))
	}

	author := enrichmentAuthor
	extra, _ := json.Marshal(map[string]any{
		"casr_enrichment":     true,
		"synthetic":           true,
		"enrichment_type":     "conversion_notice",
		"source_provider":     sourceProvider,
		"target_provider":     targetProvider,
		"source_session_id":   session.SessionID,
	})

	return ir.CanonicalMessage{
		Role:      ir.System,
		Content:   strings.Join(lines, "\n"),
		Timestamp: &noticeTS,
		Author:    &author,
		Extra:     extra,
	}
}

func buildSummaryMessage(session ir.CanonicalSession, sourceProvider, targetProvider string) ir.CanonicalMessage {
	notice := minTimestamp(session.Messages) - 2
	summaryTS := notice + 1

	recent := buildRecentSummary(session, recentSummaryCount, summaryCharLimit)
	content := fmt.Sprintf(
		"[casr synthetic context]\nRecent conversation snapshot (last %d message(s)):\n%s",
		recentCount(session, recentSummaryCount), recent,
	)

	author := enrichmentAuthor
	extra, _ := json.Marshal(map[string]any{
		"casr_enrichment":       true,
		"synthetic":             true,
		"enrichment_type":       "recent_summary",
		"source_provider":       sourceProvider,
		"target_provider":       targetProvider,
		"source_session_id":     session.SessionID,
		"summary_message_count": recentCount(session, recentSummaryCount),
	})

	return ir.CanonicalMessage{
		Role:      ir.System,
		Content:   content,
		Timestamp: &summaryTS,
		Author:    &author,
		Extra:     extra,
	}
}

func recentCount(session ir.CanonicalSession, max int) int {
	if len(session.Messages) < max {
		return len(session.Messages)
	}
	return max
}

func minTimestamp(messages []ir.CanonicalMessage) int64 {
	var min int64
	found := false
	for _, m := range messages {
		if m.Timestamp == nil {
			continue
		}
		if !found || *m.Timestamp < min {
			min = *m.Timestamp
			found = true
		}
	}
	if !found {
		return 0
	}
	return min
}

// buildRecentSummary renders the last maxMessages messages of a session as
// one "- role: text" line each, each line's text compacted to at most
// maxCharsPerMessage characters.
func buildRecentSummary(session ir.CanonicalSession, maxMessages, maxCharsPerMessage int) string {
	if len(session.Messages) == 0 {
		return "- (no messages)"
	}

	start := len(session.Messages) - maxMessages
	if start < 0 {
		start = 0
	}
	recent := session.Messages[start:]

	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		lines = append(lines, fmt.Sprintf("- %s: %s", messageRoleLabel(m.Role), compactSummaryText(m.Content, maxCharsPerMessage)))
	}
	return strings.Join(lines, "\n")
}

func messageRoleLabel(role ir.MessageRole) string {
	return role.String()
}

// compactSummaryText collapses whitespace runs to single spaces and
// truncates to maxChars, appending "..." when truncated.
func compactSummaryText(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		return "[empty]"
	}
	runes := []rune(collapsed)
	if len(runes) <= maxChars {
		return collapsed
	}
	if maxChars <= 3 {
		return strings.Repeat(".", maxChars)
	}
	return string(runes[:maxChars-3]) + "..."
}
