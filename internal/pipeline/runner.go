package pipeline

import (
	"context"
	"fmt"

	"snaplens/internal/models"
)

// Inference is the vision collaborator the stage runner depends on. Each
// call is a blocking network operation with its own timeout.
type Inference interface {
	Analyze(ctx context.Context, image models.ImagePayload, prompt string) (string, error)
}

const briefSummaryMobilePrompt = "Analyze this phone screenshot briefly. What is shown and what might be the user's intent?"

const briefSummaryDesktopPrompt = "Analyze this desktop screenshot briefly. What is shown and what might be the user's intent?"

const classificationPrompt = `Analyze this screenshot and determine:

1. Content type (webpage, app, document, social media, etc.)
2. If webpage: extract any visible URLs or domains
3. If research-related: identify key topics
4. User context: what might they want to do with this?

Respond with:
CONTENT_TYPE: [webpage/app/document/social/game/other]
WEBPAGE_URL: [URL if visible, or "none"]
RESEARCH_TOPICS: [comma-separated topics if research-related]
USER_INTENT: [likely user intent]
FOLLOW_UP: [suggested follow-up actions]`

const keywordPrompt = `Analyze this screenshot and extract potential research keywords or academic topics.

Respond with:
KEYWORDS: [comma-separated list of 3-7 relevant research keywords]
IS_RESEARCH: [yes/no - whether this appears to be research-related content]
FIELD: [primary research field if identifiable]`

const deepAnalysisPrompt = `Provide a comprehensive analysis of this screenshot covering:

1. **Content Overview** - What is shown and its context
2. **Key Insights** - Important information or patterns
3. **Practical Applications** - How this information could be used
4. **Follow-up Suggestions** - Recommended next steps

Provide a detailed but well-organized analysis.`

// Runner sequences the analysis stages against a validated image. Stages 1
// and 2 are mandatory and run at submission time; the rest are deferred
// until a follow-up action requests them. Each stage is a pure function of
// the image and prior outputs; the runner owns sequencing, not retry.
type Runner struct {
	inference Inference
}

// NewRunner creates a stage runner backed by the given inference collaborator.
func NewRunner(inference Inference) *Runner {
	return &Runner{inference: inference}
}

// BriefSummary runs stage 1. The source kind only shapes the prompt framing.
func (r *Runner) BriefSummary(ctx context.Context, image models.ImagePayload, source models.SourceKind) (string, error) {
	prompt := briefSummaryMobilePrompt
	if source.IsDesktop() {
		prompt = briefSummaryDesktopPrompt
	}

	summary, err := r.inference.Analyze(ctx, image, prompt)
	if err != nil {
		return "", fmt.Errorf("brief summary stage: %w", err)
	}
	return summary, nil
}

// Classify runs stage 2 and parses the structured response. Inference
// failure fails the stage; malformed lines in a successful response do not.
func (r *Runner) Classify(ctx context.Context, image models.ImagePayload) (*models.ContentClassification, error) {
	text, err := r.inference.Analyze(ctx, image, classificationPrompt)
	if err != nil {
		return nil, fmt.Errorf("classification stage: %w", err)
	}
	return ParseClassification(text), nil
}

// ExtractKeywords runs the deferred keyword-extraction stage.
func (r *Runner) ExtractKeywords(ctx context.Context, image models.ImagePayload) (*models.ResearchKeywords, error) {
	text, err := r.inference.Analyze(ctx, image, keywordPrompt)
	if err != nil {
		return nil, fmt.Errorf("keyword extraction stage: %w", err)
	}
	return ParseKeywords(text), nil
}

// DeepAnalysis runs the deferred comprehensive-analysis stage.
func (r *Runner) DeepAnalysis(ctx context.Context, image models.ImagePayload) (string, error) {
	text, err := r.inference.Analyze(ctx, image, deepAnalysisPrompt)
	if err != nil {
		return "", fmt.Errorf("deep analysis stage: %w", err)
	}
	return text, nil
}
