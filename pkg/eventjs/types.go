package eventjs

type Stats struct {
	EventsProcessed int64
	EventsDropped   int64
	HookErrors      int64
	HookTimeouts    int64
}

type Options struct {
	HookTimeout string
}

type ModuleInfo struct {
	Name        string
	Tag         string
	HasOnEvent  bool
	HasInit     bool
	HasShutdown bool
	HasOnError  bool
}

// Annotated is a processed event: the original wire fields plus whatever the
// script attached under `fields`.
type Annotated struct {
	RunID  string         `json:"run_id"`
	Seq    int64          `json:"seq"`
	Ts     string         `json:"ts,omitempty"`
	Type   string         `json:"type"`
	Stage  string         `json:"stage,omitempty"`
	Data   map[string]any `json:"payload,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Tags   []string       `json:"tags,omitempty"`
}

type ErrorRecord struct {
	Module  string `json:"module"`
	Tag     string `json:"tag"`
	Hook    string `json:"hook"`
	Seq     int64  `json:"seq"`
	Timeout bool   `json:"timeout"`
	Message string `json:"message"`
}
