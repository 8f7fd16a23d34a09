package registry

// Entry describes one catalog model. IDs are provider-qualified
// ("openai:gpt-4o-mini"); Aliases list alternate spellings that resolve to
// the same entry.
type Entry struct {
	ID      string
	Aliases []string
	Name    string

	Provider string // openai, anthropic, google, deepseek, ollama, ark, qwen
	Model    string // provider-side model identifier

	// Capability flags surfaced by GET /models.
	Reasoning  bool
	Fast       bool
	Attachment bool
	ToolCall   bool

	ContextWindow int

	// RequiresEnv gates the entry: when the variable is unset the entry is
	// excluded from listing and rejected on lookup.
	RequiresEnv string
}

// Provider credential environment variables.
const (
	EnvOpenAI    = "OPENAI_API_KEY"
	EnvAnthropic = "ANTHROPIC_API_KEY"
	EnvGoogle    = "GOOGLE_API_KEY"
	EnvDeepSeek  = "DEEPSEEK_API_KEY"
	EnvArk       = "ARK_API_KEY"
	EnvQwen      = "DASHSCOPE_API_KEY"
	EnvOllama    = "OLLAMA_BASE_URL"
)

// catalog is the static model list. Order here is the order of GET /models.
var catalog = []Entry{
	{
		ID: "openai:gpt-4o", Aliases: []string{"gpt-4o"},
		Name: "GPT-4o", Provider: "openai", Model: "gpt-4o",
		Attachment: true, ToolCall: true, ContextWindow: 128000,
		RequiresEnv: EnvOpenAI,
	},
	{
		ID: "openai:gpt-4o-mini", Aliases: []string{"gpt-4o-mini"},
		Name: "GPT-4o mini", Provider: "openai", Model: "gpt-4o-mini",
		Fast: true, Attachment: true, ToolCall: true, ContextWindow: 128000,
		RequiresEnv: EnvOpenAI,
	},
	{
		ID: "openai:o3-mini", Aliases: []string{"o3-mini"},
		Name: "o3-mini", Provider: "openai", Model: "o3-mini",
		Reasoning: true, ToolCall: true, ContextWindow: 200000,
		RequiresEnv: EnvOpenAI,
	},
	{
		ID: "anthropic:claude-sonnet-4-5", Aliases: []string{"claude-sonnet-4-5"},
		Name: "Claude Sonnet 4.5", Provider: "anthropic", Model: "claude-sonnet-4-5",
		Reasoning: true, Attachment: true, ToolCall: true, ContextWindow: 200000,
		RequiresEnv: EnvAnthropic,
	},
	{
		ID: "anthropic:claude-3-5-haiku", Aliases: []string{"claude-3-5-haiku"},
		Name: "Claude 3.5 Haiku", Provider: "anthropic", Model: "claude-3-5-haiku-latest",
		Fast: true, ToolCall: true, ContextWindow: 200000,
		RequiresEnv: EnvAnthropic,
	},
	{
		ID: "google:gemini-2.5-pro", Aliases: []string{"gemini-2.5-pro"},
		Name: "Gemini 2.5 Pro", Provider: "google", Model: "gemini-2.5-pro",
		Reasoning: true, Attachment: true, ToolCall: true, ContextWindow: 1000000,
		RequiresEnv: EnvGoogle,
	},
	{
		ID: "google:gemini-2.5-flash", Aliases: []string{"gemini-2.5-flash"},
		Name: "Gemini 2.5 Flash", Provider: "google", Model: "gemini-2.5-flash",
		Fast: true, Attachment: true, ToolCall: true, ContextWindow: 1000000,
		RequiresEnv: EnvGoogle,
	},
	{
		ID: "deepseek:deepseek-chat", Aliases: []string{"deepseek-chat"},
		Name: "DeepSeek V3", Provider: "deepseek", Model: "deepseek-chat",
		Fast: true, ToolCall: true, ContextWindow: 64000,
		RequiresEnv: EnvDeepSeek,
	},
	{
		ID: "deepseek:deepseek-reasoner", Aliases: []string{"deepseek-reasoner", "deepseek-r1"},
		Name: "DeepSeek R1", Provider: "deepseek", Model: "deepseek-reasoner",
		Reasoning: true, ContextWindow: 64000,
		RequiresEnv: EnvDeepSeek,
	},
	{
		ID: "ark:doubao-1-5-pro", Aliases: []string{"doubao-1-5-pro"},
		Name: "Doubao 1.5 Pro", Provider: "ark", Model: "doubao-1-5-pro-32k",
		ToolCall: true, ContextWindow: 32000,
		RequiresEnv: EnvArk,
	},
	{
		ID: "qwen:qwen-max", Aliases: []string{"qwen-max"},
		Name: "Qwen Max", Provider: "qwen", Model: "qwen-max",
		ToolCall: true, ContextWindow: 32000,
		RequiresEnv: EnvQwen,
	},
	{
		ID: "qwen:qwq-32b", Aliases: []string{"qwq-32b"},
		Name: "QwQ 32B", Provider: "qwen", Model: "qwq-32b",
		Reasoning: true, ContextWindow: 32000,
		RequiresEnv: EnvQwen,
	},
	{
		ID: "ollama:llama3.1", Aliases: []string{"llama3.1"},
		Name: "Llama 3.1 (local)", Provider: "ollama", Model: "llama3.1",
		Fast: true, ToolCall: true, ContextWindow: 128000,
		RequiresEnv: EnvOllama,
	},
}
