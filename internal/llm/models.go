package llm

// AutoModel is the requested model identifier that triggers classification
const AutoModel = "auto"

// Features a model supports, surfaced to clients
type Features struct {
	Reasoning bool `json:"reasoning"`
	Search    bool `json:"search"`
	Image     bool `json:"image"`
	Video     bool `json:"video"`
}

// ModelSpec is a static catalogue entry
type ModelSpec struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	UIDescription string   `json:"description,omitempty"`
	Description   string   `json:"-"` // classifier prompt text
	Provider      string   `json:"provider"`
	Upstream      string   `json:"-"`
	Features      Features `json:"features"`

	// ThinkingBudget in tokens. 0 explicitly disables thinking,
	// NoThinkingBudget means the field is not sent.
	ThinkingBudget int  `json:"-"`
	ImageOutput    bool `json:"-"`
	Selectable     bool `json:"selectable"` // offered to the classifier
}

// NoThinkingBudget marks a model that receives no thinking configuration
const NoThinkingBudget = -1

// DefaultPriority is the fallback order across providers
var DefaultPriority = []string{
	"gemini-2.0-flash-001",
	"gemini-2.5-flash-preview-04-17",
	"gemini-2.5-pro-exp-03-25",
	"gemini-2.0-flash-exp",
	"deepseek-chat",
	"deepseek-reasoner",
	"gpt-4.0",
	"claude-3-5-sonnet-latest",
	"claude-3-7-sonnet-20250219",
	"grok-3-mini",
}

// Catalogue returns the built-in model catalogue in DefaultPriority order
func Catalogue() []ModelSpec {
	return []ModelSpec{
		{
			ID:            "gemini-2.0-flash-001",
			Label:         "Gemini 2.0 Flash",
			UIDescription: "General purpose tasks",
			Description: "Best at general day-to-day tasks but not optimal for highly complex tasks like advanced coding or intricate mathematical problems. " +
				"It natively calls tools (e.g., search, stream images/video in realtime) and is the default model for casual conversation.",
			Provider:       ProviderGemini,
			Upstream:       "gemini-2.0-flash-001",
			Features:       Features{Search: true, Image: true},
			ThinkingBudget: 0,
			Selectable:     true,
		},
		{
			ID:            "gemini-2.5-flash-preview-04-17",
			Label:         "Gemini 2.5 Flash Preview",
			UIDescription: "Enhanced reasoning",
			Description: "A day-to-day model by Google that improves upon the general Gemini-2.0 in coding, math, and complex tasks. " +
				"It is less focused on introspective \"thinking\" and more on delivering quick, accurate responses.",
			Provider:       ProviderGemini,
			Upstream:       "gemini-2.5-flash-preview-04-17",
			Features:       Features{Reasoning: true, Search: true, Image: true},
			ThinkingBudget: 24576,
			Selectable:     true,
		},
		{
			ID:            "gemini-2.5-pro-exp-03-25",
			Label:         "Gemini 2.5 Pro",
			UIDescription: "Day-to-day performance",
			Description: "Google's Gemini family \"thinking\" variant that provides a bit more internal reasoning. " +
				"It's better than the pro model for tasks requiring a higher level of logical processing and step-by-step analysis, " +
				"though it may not be as specialized for heavy coding challenges.",
			Provider:       ProviderGemini,
			Upstream:       "gemini-2.5-pro-exp-03-25",
			Features:       Features{Reasoning: true, Search: true},
			ThinkingBudget: 24576,
			Selectable:     true,
		},
		{
			ID:             "gemini-2.0-flash-exp",
			Label:          "Gemini 2.0 Flash (Image Generation)",
			UIDescription:  "Image generation",
			Provider:       ProviderGemini,
			Upstream:       "gemini-2.0-flash-exp",
			Features:       Features{Search: true, Image: true},
			ThinkingBudget: NoThinkingBudget,
			ImageOutput:    true,
		},
		{
			ID:    "deepseek-chat",
			Label: "Deepseek Chat",
			Description: "A distilled version of DeepSeek Reasoner that sacrifices some of its deep reasoning capabilities. " +
				"Although it can't handle highly complex tasks in science, coding, or math, it still outperforms some competitors in general conversation. " +
				"Suitable for everyday chat and light tasks.",
			Provider:       ProviderDeepSeek,
			Upstream:       "deepseek-chat",
			ThinkingBudget: NoThinkingBudget,
			Selectable:     true,
		},
		{
			ID:    "deepseek-reasoner",
			Label: "Deepseek Reasoning",
			Description: "A series of advanced AI models designed for tackling complex reasoning tasks in science, coding, and mathematics. " +
				"Optimized to \"think before they answer,\" it produces detailed internal chains of thought for solving challenging problems. " +
				"Ideal for tasks where deep reasoning and detailed step-by-step analysis are critical.",
			Provider:       ProviderDeepSeek,
			Upstream:       "deepseek-reasoner",
			Features:       Features{Reasoning: true},
			ThinkingBudget: NoThinkingBudget,
			Selectable:     true,
		},
		{
			ID:    "gpt-4.0",
			Label: "GPT-4.0",
			Description: "OpenAI's flagship GPT-4 model, known for its advanced natural language understanding, " +
				"creative text generation, and strong reasoning abilities. It supports multimodal inputs and performs well on diverse, " +
				"complex tasks from coding to professional-level benchmarks, while still occasionally producing hallucinated details.",
			Provider:       ProviderOpenAI,
			Upstream:       "gpt-4.5-preview-2025-02-27",
			Features:       Features{Reasoning: true, Search: true, Image: true},
			ThinkingBudget: NoThinkingBudget,
			Selectable:     true,
		},
		{
			ID:    "claude-3-5-sonnet-latest",
			Label: "Claude 3.5 Sonnet",
			Description: "Anthropic's Claude 3.5 Sonnet (Latest) is an improved conversational AI model that balances speed and thoughtful responses. " +
				"It offers enhanced coding, reasoning, and creative writing capabilities compared to earlier versions, " +
				"making it well-suited for everyday tasks and general-purpose applications where efficiency is key.",
			Provider:       ProviderAnthropic,
			Upstream:       "claude-3-5-sonnet-latest",
			Features:       Features{Reasoning: true, Image: true},
			ThinkingBudget: NoThinkingBudget,
			Selectable:     true,
		},
		{
			ID:    "claude-3-7-sonnet-20250219",
			Label: "Claude 3.7 Sonnet",
			Description: "Anthropic's Claude 3.7 Sonnet (20250219) is a hybrid reasoning model with adjustable extended thinking. " +
				"It allows users to toggle between rapid responses and in-depth, step-by-step analysis, " +
				"excelling in complex coding, strategic problem-solving, and creative content generation, although it may sometimes overthink simple queries.",
			Provider:       ProviderAnthropic,
			Upstream:       "claude-3-7-sonnet-20250219",
			Features:       Features{Reasoning: true, Search: true, Image: true},
			ThinkingBudget: 16384,
			Selectable:     true,
		},
		{
			ID:             "grok-3-mini",
			Label:          "Grok 3 Mini",
			UIDescription:  "Fast reasoning with live search",
			Provider:       ProviderXAI,
			Upstream:       "grok-3-mini",
			Features:       Features{Reasoning: true, Search: true, Image: true},
			ThinkingBudget: NoThinkingBudget,
		},
	}
}

// AutoSpec is the pseudo-entry shown to clients for automatic selection
func AutoSpec() ModelSpec {
	return ModelSpec{
		ID:       AutoModel,
		Label:    "Auto",
		Features: Features{Reasoning: true, Search: true, Image: true},
	}
}
