package pipeline

import (
	"strings"

	"snaplens/internal/models"
)

// ParseClassification parses the structured content-classification text
// block (LABEL: value per line). Missing or malformed lines default to safe
// "unknown" values; one bad line never fails the stage.
func ParseClassification(text string) *models.ContentClassification {
	result := &models.ContentClassification{
		ContentType: "unknown",
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONTENT_TYPE:"):
			if v := fieldValue(line); v != "" {
				result.ContentType = v
			}
		case strings.HasPrefix(line, "WEBPAGE_URL:"):
			url := fieldValue(line)
			if url != "" && url != "none" && url != "unknown" {
				result.WebpageURL = url
			}
		case strings.HasPrefix(line, "RESEARCH_TOPICS:"):
			result.ResearchTopics = splitList(fieldValue(line))
		case strings.HasPrefix(line, "USER_INTENT:"):
			result.UserIntent = fieldValue(line)
		case strings.HasPrefix(line, "FOLLOW_UP:"):
			result.FollowUp = fieldValue(line)
		}
	}

	return result
}

// ParseKeywords parses the keyword-extraction text block.
func ParseKeywords(text string) *models.ResearchKeywords {
	result := &models.ResearchKeywords{
		Field: "unknown",
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "KEYWORDS:"):
			result.Keywords = splitList(fieldValue(line))
		case strings.HasPrefix(line, "IS_RESEARCH:"):
			result.IsResearch = strings.Contains(strings.ToLower(fieldValue(line)), "yes")
		case strings.HasPrefix(line, "FIELD:"):
			if v := fieldValue(line); v != "" {
				result.Field = v
			}
		}
	}

	return result
}

func fieldValue(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}

func splitList(value string) []string {
	if value == "" || value == "none" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
