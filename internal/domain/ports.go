package domain

// Repositories (ports)

// JobRepository is the durable job store. SetSlot is a full-slot
// replacement and idempotent for equal values; MergeChart is the one
// merge-semantics write, guarded by an optimistic version check at the
// store level. UpdateStatus enforces the monotonic transition set.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	UpdateStatus(ctx Context, id string, status JobStatus, errMsg *string) error
	SetSlot(ctx Context, id string, slot Slot, value any) error
	MergeChart(ctx Context, id string, key string, chart ChartDescriptor) error
}

// InstrumentRepository is the reference-data store keyed by symbol.
// ListMissing returns, of the given symbols, those absent or lacking any
// of the three allocation maps.
type InstrumentRepository interface {
	Get(ctx Context, symbol string) (Instrument, error)
	Upsert(ctx Context, ins Instrument) error
	ListMissing(ctx Context, symbols []string) ([]string, error)
}

// Queue (port)

type Queue interface {
	EnqueueJob(ctx Context, msg JobMessage) error
}

// KnowledgeSearcher (port): read-only semantic search. Failures are
// non-fatal to workers.
type KnowledgeSearcher interface {
	Search(ctx Context, query string, k int) ([]Snippet, error)
}

// Tool declarations shared by the registry and the model client.
// Parameter schemas are deliberately limited to primitive types and lists
// of primitives; nested objects are not representable.

type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
)

// ToolParam declares one tool parameter. Enum constrains string params to
// a closed set; Elem names the element type of array params.
type ToolParam struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Elem        ParamType
}

// ToolDecl is the model-visible declaration of a callable tool.
type ToolDecl struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolInvoker dispatches one tool call issued by the model and returns a
// short textual result for the tool-response message.
type ToolInvoker func(ctx Context, name string, args map[string]any) (string, error)

// Usage is the model client's per-call accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Turns            int
	Retries          int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another usage into u.
func (u *Usage) Add(v Usage) {
	u.PromptTokens += v.PromptTokens
	u.CompletionTokens += v.CompletionTokens
	u.Turns += v.Turns
	u.Retries += v.Retries
}

// ModelClient (port)
//
// The two chat modes are mutually exclusive: ChatSchema constrains the
// final reply to a JSON schema and exposes no tools; ChatTools drives the
// tool loop and returns free-form final text. Implementations must not
// combine them.
type ModelClient interface {
	// ChatSchema runs a single schema-constrained exchange and returns the
	// raw JSON reply.
	ChatSchema(ctx Context, instructions, user string, schemaName string, schema map[string]any) (string, Usage, error)
	// ChatTools runs the turn loop: tool calls are dispatched through
	// invoke until the model produces a final text reply or maxTurns is
	// reached.
	ChatTools(ctx Context, instructions, user string, tools []ToolDecl, invoke ToolInvoker, maxTurns int) (string, Usage, error)
	// Embed returns embedding vectors for texts.
	Embed(ctx Context, texts []string) ([][]float32, error)
}
