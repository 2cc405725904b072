// Package classify matches call transcripts against interest keywords using
// an LLM constrained to a structured JSON response.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Match is one keyword hit within a call.
type Match struct {
	Keyword   string `json:"keyword" validate:"required"`
	Summary   string `json:"summary" validate:"required,max=200"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"`
	Link      string `json:"link" validate:"omitempty,url"`
}

// Result is the classification outcome for one call. Matches is empty when
// nothing in the transcript relates to any keyword.
type Result struct {
	CallID  string  `json:"call_id"`
	Matches []Match `json:"matches"`
}

// Classifier submits transcript text plus a keyword list and returns the
// structured result.
type Classifier interface {
	Classify(ctx context.Context, callID, transcriptText string, keywords []string) (Result, error)
	Close() error
}

// GeminiClassifier implements Classifier on the Gemini API with JSON-mode
// output constrained by a response schema.
type GeminiClassifier struct {
	client   *genai.Client
	model    string
	callHost string
	validate *validator.Validate
}

// NewGeminiClassifier creates a classifier. callHost is the base URL used for
// deep links embedded in matches.
func NewGeminiClassifier(ctx context.Context, apiKey, model, callHost string) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClassifier{
		client:   client,
		model:    model,
		callHost: callHost,
		validate: validator.New(),
	}, nil
}

// responseSchema constrains the model output to the Result shape.
var responseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"call_id": {Type: genai.TypeString},
		"matches": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"keyword":   {Type: genai.TypeString},
					"summary":   {Type: genai.TypeString, Description: "At most 200 characters"},
					"timestamp": {Type: genai.TypeInteger, Description: "Millisecond offset into the call"},
					"link":      {Type: genai.TypeString},
				},
				Required: []string{"keyword", "summary", "timestamp"},
			},
		},
	},
	Required: []string{"call_id", "matches"},
}

// Classify runs one transcript through the model and parses the constrained
// response. Deep links are rebuilt locally from the returned timestamps so
// their format never depends on model output.
func (c *GeminiClassifier) Classify(ctx context.Context, callID, transcriptText string, keywords []string) (Result, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = responseSchema

	prompt := BuildPrompt(callID, transcriptText, keywords)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return Result{}, err
	}

	result, err := c.ParseResult(cleanJSONBlock(text))
	if err != nil {
		return Result{}, err
	}

	result.CallID = callID
	for i := range result.Matches {
		result.Matches[i].Link = BuildDeepLink(c.callHost, callID, result.Matches[i].Timestamp)
	}
	return result, nil
}

// ParseResult validates the raw model output against the result schema and
// decodes it. A payload that does not match the schema yields a
// SchemaMismatchError rather than a partially decoded result.
func (c *GeminiClassifier) ParseResult(raw string) (Result, error) {
	if err := ValidateResultJSON(raw); err != nil {
		return Result{}, err
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return Result{}, &SchemaMismatchError{Detail: err.Error()}
	}

	for _, match := range result.Matches {
		if err := c.validate.Struct(match); err != nil {
			return Result{}, &SchemaMismatchError{Detail: fmt.Sprintf("match %q: %v", match.Keyword, err)}
		}
	}
	return result, nil
}

// Close releases the underlying client.
func (c *GeminiClassifier) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// BuildPrompt constructs the classification prompt embedding the transcript
// text and the keyword list.
func BuildPrompt(callID, transcriptText string, keywords []string) string {
	var sb strings.Builder

	sb.WriteString("You are an analyst reviewing a sales call transcript. ")
	sb.WriteString("Decide which of the interest keywords below are substantively discussed in the call.\n\n")

	sb.WriteString("For each keyword that is discussed, produce one match with:\n")
	sb.WriteString("- keyword: the matched keyword exactly as listed\n")
	sb.WriteString("- summary: what was said about it, at most 200 characters\n")
	sb.WriteString("- timestamp: the millisecond offset of the most relevant sentence\n")
	sb.WriteString("If no keyword is discussed, return an empty matches array.\n\n")

	sb.WriteString("call_id: ")
	sb.WriteString(callID)
	sb.WriteString("\n\nInterest keywords:\n")
	for _, keyword := range keywords {
		sb.WriteString("- ")
		sb.WriteString(keyword)
		sb.WriteString("\n")
	}

	sb.WriteString("\nTranscript:\n\"\"\"\n")
	sb.WriteString(transcriptText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// extractTextFromResponse extracts text from a Gemini API response.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code block wrappers from JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
