package message

// CompletionConfig carries the recognized sampling/formatting options passed
// to a model completion call. Values are updated in place via Option
// functions or direct field writes; there is no immutability guarantee.
type CompletionConfig struct {
	TopP             float64
	MaxTokens        int
	FrequencyPenalty float64
	Temperature      float64
	FormatJSON       bool
	AllowThinking    bool
	StopWords        []string
	Stream           bool
}

// Option mutates a CompletionConfig at construction time.
type Option func(*CompletionConfig)

// NewCompletionConfig returns a CompletionConfig populated with documented
// defaults, then applies opts in order.
func NewCompletionConfig(opts ...Option) *CompletionConfig {
	c := &CompletionConfig{
		TopP:             1.0,
		MaxTokens:        8192,
		FrequencyPenalty: 1.0,
		Temperature:      0.9,
		FormatJSON:       false,
		AllowThinking:    true,
		StopWords:        nil,
		Stream:           false,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithTopP(v float64) Option             { return func(c *CompletionConfig) { c.TopP = v } }
func WithMaxTokens(v int) Option            { return func(c *CompletionConfig) { c.MaxTokens = v } }
func WithFrequencyPenalty(v float64) Option { return func(c *CompletionConfig) { c.FrequencyPenalty = v } }
func WithTemperature(v float64) Option      { return func(c *CompletionConfig) { c.Temperature = v } }
func WithFormatJSON(v bool) Option          { return func(c *CompletionConfig) { c.FormatJSON = v } }
func WithAllowThinking(v bool) Option       { return func(c *CompletionConfig) { c.AllowThinking = v } }
func WithStopWords(v ...string) Option      { return func(c *CompletionConfig) { c.StopWords = v } }
func WithStream(v bool) Option              { return func(c *CompletionConfig) { c.Stream = v } }

// Clone returns a deep-enough copy for independent mutation (StopWords is
// copied, not aliased).
func (c *CompletionConfig) Clone() *CompletionConfig {
	if c == nil {
		return NewCompletionConfig()
	}
	clone := *c
	if c.StopWords != nil {
		clone.StopWords = append([]string(nil), c.StopWords...)
	}
	return &clone
}
