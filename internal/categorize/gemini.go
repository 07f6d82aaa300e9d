package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// CategoryGroup is one category and its allowed subcategories. The taxonomy
// is configuration data; the engine itself stays agnostic to its contents.
type CategoryGroup struct {
	Category      string   `yaml:"category" json:"category"`
	Subcategories []string `yaml:"subcategories" json:"subcategories"`
}

// Taxonomy is the full set of allowed category/subcategory pairs.
type Taxonomy []CategoryGroup

// GeminiClassifier classifies transaction descriptions with Gemini.
type GeminiClassifier struct {
	client   *genai.Client
	model    string
	taxonomy Taxonomy
}

// NewGeminiClassifier creates a classifier. Credentials come from the
// environment, the same way the rest of the GenAI tooling picks them up.
func NewGeminiClassifier(ctx context.Context, model string, taxonomy Taxonomy) (*GeminiClassifier, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model, taxonomy: taxonomy}, nil
}

// Classify sends one description to the model and maps the strict-JSON reply
// to an Assignment. Timeouts, transport errors, and malformed replies are all
// returned as plain errors so the engine treats them uniformly as retryable.
func (g *GeminiClassifier) Classify(ctx context.Context, description string, debit bool) (Assignment, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: g.buildPrompt(description, debit)},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return Assignment{}, fmt.Errorf("generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return Assignment{}, fmt.Errorf("empty response from model")
	}

	var a Assignment
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &a); err != nil {
		return Assignment{}, fmt.Errorf("unmarshal model reply: %w\nraw response: %s", err, rawText)
	}
	if strings.TrimSpace(a.Category) == "" {
		return Assignment{}, fmt.Errorf("model reply missing category: %s", rawText)
	}
	if strings.TrimSpace(a.Subcategory) == "" {
		a.Subcategory = a.Category
	}
	return a, nil
}

func (g *GeminiClassifier) buildPrompt(description string, debit bool) string {
	var b strings.Builder

	b.WriteString("You are a financial assistant that classifies bank transactions ")
	b.WriteString("into predefined categories and subcategories.\n\n")
	b.WriteString("Allowed categories and subcategories:\n")
	for _, group := range g.taxonomy {
		fmt.Fprintf(&b, "- %s\n", group.Category)
		for _, sub := range group.Subcategories {
			fmt.Fprintf(&b, "  - %s\n", sub)
		}
	}

	b.WriteString("\nExamples:\n")
	b.WriteString("Description: \"McDonald's - Lunch Set Meal\" -> {\"category\": \"Food & Dining\", \"subcategory\": \"Eat Out\"}\n")
	b.WriteString("Description: \"Shell Petrol Station - Refuel\" -> {\"category\": \"Transportation\", \"subcategory\": \"Car Refuel\"}\n")

	direction := "money in"
	if debit {
		direction = "money out"
	}
	fmt.Fprintf(&b, "\nClassify this transaction (%s):\nDescription: %q\n\n", direction, description)

	b.WriteString("Return ONLY a raw JSON object with exactly two string fields, ")
	b.WriteString("\"category\" and \"subcategory\", chosen from the lists above.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"{\" and end with \"}\".\n")

	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
