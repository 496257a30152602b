package models

import (
	"strings"
	"time"
)

// SourceKind identifies which producer submitted a screenshot.
type SourceKind string

const (
	SourceMobile      SourceKind = "mobile"
	SourceDesktopAuto SourceKind = "desktop_auto"
)

// IsDesktop reports whether the screenshot came from the desktop watcher.
func (s SourceKind) IsDesktop() bool {
	return s == SourceDesktopAuto
}

// ImagePayload is a validated screenshot image.
type ImagePayload struct {
	Data      []byte
	MediaType string
	SizeBytes int
}

// ScreenshotMeta carries producer-declared hints about a submission.
type ScreenshotMeta struct {
	Source   SourceKind `json:"source"`
	App      string     `json:"app,omitempty"`
	Location string     `json:"location,omitempty"`
	Filename string     `json:"filename,omitempty"`
}

// ContentClassification is the structured result of the content
// classification stage. All fields are set exactly once during stage
// execution and are read-only afterwards.
type ContentClassification struct {
	ContentType    string   `json:"content_type"`
	WebpageURL     string   `json:"webpage_url,omitempty"`
	ResearchTopics []string `json:"research_topics,omitempty"`
	UserIntent     string   `json:"user_intent,omitempty"`
	FollowUp       string   `json:"follow_up,omitempty"`
}

// ResearchKeywords is the result of the deferred keyword extraction stage.
type ResearchKeywords struct {
	Keywords   []string `json:"keywords"`
	IsResearch bool     `json:"is_research"`
	Field      string   `json:"field"`
}

// AnalysisRecord is the unit of work tracked by the store: one screenshot
// submission together with its mandatory stage results. Image and Meta are
// immutable after creation; Classification is write-once via the store.
type AnalysisRecord struct {
	ID             string
	Image          ImagePayload
	Meta           ScreenshotMeta
	BriefSummary   string
	Classification *ContentClassification
	CreatedAt      time.Time
}

// ActionKind is the decoded kind of a follow-up action.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionResearchLookup
	ActionDeepAnalysis
	ActionWebpageAnalysis
)

func (k ActionKind) String() string {
	switch k {
	case ActionResearchLookup:
		return "research-lookup"
	case ActionDeepAnalysis:
		return "deep-analysis"
	case ActionWebpageAnalysis:
		return "webpage-analysis"
	default:
		return "unknown"
	}
}

// ActionKey correlates an inbound button press to a stored analysis and an
// action kind. It exists only for the duration of one dispatch.
type ActionKey struct {
	Kind       ActionKind
	AnalysisID string
}

// Callback data prefixes for inline keyboard buttons. The suffix after the
// prefix is the analysis ID.
const (
	callbackPrefixResearch = "arxiv_research_"
	callbackPrefixDeep     = "deep_research_"
	callbackPrefixWebpage  = "full_webpage_"
)

// CallbackData encodes the key into the inline button wire format.
func (k ActionKey) CallbackData() string {
	switch k.Kind {
	case ActionResearchLookup:
		return callbackPrefixResearch + k.AnalysisID
	case ActionDeepAnalysis:
		return callbackPrefixDeep + k.AnalysisID
	case ActionWebpageAnalysis:
		return callbackPrefixWebpage + k.AnalysisID
	default:
		return ""
	}
}

// ParseActionKey decodes inline button callback data. It reports false for
// data that is not one of the known action encodings.
func ParseActionKey(data string) (ActionKey, bool) {
	switch {
	case strings.HasPrefix(data, callbackPrefixResearch):
		return ActionKey{Kind: ActionResearchLookup, AnalysisID: strings.TrimPrefix(data, callbackPrefixResearch)}, true
	case strings.HasPrefix(data, callbackPrefixDeep):
		return ActionKey{Kind: ActionDeepAnalysis, AnalysisID: strings.TrimPrefix(data, callbackPrefixDeep)}, true
	case strings.HasPrefix(data, callbackPrefixWebpage):
		return ActionKey{Kind: ActionWebpageAnalysis, AnalysisID: strings.TrimPrefix(data, callbackPrefixWebpage)}, true
	default:
		return ActionKey{}, false
	}
}

// Paper is one result from the paper-search collaborator.
type Paper struct {
	ID        string
	Title     string
	Authors   []string
	Published string
}

// WebpageResult is the outcome of fetching a webpage referenced by a
// screenshot. A failed fetch is a normal, reportable outcome.
type WebpageResult struct {
	URL     string
	Title   string
	Excerpt string
	Success bool
	Error   string
}

// SubmissionResult is the structured payload returned to the submitter.
type SubmissionResult struct {
	Success           bool   `json:"success"`
	AnalysisID        string `json:"analysis_id,omitempty"`
	Summary           string `json:"summary,omitempty"`
	Timestamp         string `json:"timestamp"`
	FollowUpAvailable bool   `json:"follow_up_available,omitempty"`
	Source            string `json:"source,omitempty"`
	Error             string `json:"error,omitempty"`
}
