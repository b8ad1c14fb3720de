package artifact

import "strings"

// summarize derives a lower-detail tier from the raw payload text by plain
// truncation/extraction, per the inline-summary design decision recorded in
// DESIGN.md (spec §9 open question 2): no LLM call, cached on the artifact
// row once computed.
func summarize(raw string, tier Tier) string {
	if tier == TierAudit {
		return raw
	}
	trimmed := strings.TrimSpace(raw)
	switch tier {
	case TierGist:
		return firstSentenceOrN(trimmed, 240)
	case TierFindings:
		return firstNParagraphs(trimmed, 2, 1200)
	case TierActions:
		return extractActionLines(trimmed, 2000)
	case TierRationale:
		return firstNParagraphs(trimmed, 6, 4000)
	default:
		return trimmed
	}
}

func firstSentenceOrN(s string, n int) string {
	if s == "" {
		return s
	}
	end := len(s)
	for _, terminator := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.Index(s, terminator); idx != -1 && idx+1 < end {
			end = idx + 1
			break
		}
	}
	if end > n {
		end = n
	}
	return truncate(s[:minInt(end, len(s))], n)
}

func firstNParagraphs(s string, n, maxLen int) string {
	paras := strings.Split(s, "\n\n")
	if len(paras) > n {
		paras = paras[:n]
	}
	return truncate(strings.Join(paras, "\n\n"), maxLen)
}

// extractActionLines pulls lines that look like enumerated or bulleted
// action items; falls back to the leading text when none are found.
func extractActionLines(s string, maxLen int) string {
	lines := strings.Split(s, "\n")
	var actions []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isActionLine(trimmed) {
			actions = append(actions, trimmed)
		}
	}
	if len(actions) == 0 {
		return truncate(s, maxLen)
	}
	return truncate(strings.Join(actions, "\n"), maxLen)
}

func isActionLine(line string) bool {
	prefixes := []string{"-", "*", "•"}
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	if len(line) > 1 && line[0] >= '0' && line[0] <= '9' {
		for i := 0; i < len(line); i++ {
			if line[i] == '.' || line[i] == ')' {
				return true
			}
			if line[i] < '0' || line[i] > '9' {
				break
			}
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
