package shared

// MessageType identifies a websocket message sent to the visualizer.
type MessageType int

// Values are part of the wire contract with the frontend.
const (
	MessageTypeEvent       MessageType = 0 // single runtime event
	MessageTypeSnapshot    MessageType = 1 // full snapshot record
	MessageTypeDiagnostics MessageType = 2 // parse diagnostics after load
	MessageTypeError       MessageType = 3 // command failed
	MessageTypeSession     MessageType = 4 // session id handed to the client
	MessageTypeWatches     MessageType = 5 // current watch values
	MessageTypeBreakpoints MessageType = 6 // breakpoint list
	MessageTypeAck         MessageType = 7 // command accepted without payload
	MessageTypeInput       MessageType = 8 // program waits for a number
)

// Message is one server to client frame.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Command   string      `json:"command,omitempty"` // action the message answers
	Content   string      `json:"content,omitempty"`

	Event       *EventRecord       `json:"event,omitempty"`
	Snapshot    *SnapshotRecord    `json:"snapshot,omitempty"`
	Diagnostics []DiagnosticRecord `json:"diagnostics,omitempty"`
	Watches     []WatchRecord      `json:"watches,omitempty"`
	Breakpoints []BreakpointRecord `json:"breakpoints,omitempty"`
}

// Command is one client to server frame. Only the fields relevant to the
// action are set.
type Command struct {
	Action    string `json:"action"`
	Source    string `json:"source,omitempty"`
	Index     *int   `json:"index,omitempty"`
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
	ID        int    `json:"id,omitempty"`
	Expr      string `json:"expr,omitempty"`
	Value     int32  `json:"value,omitempty"`

	MaxCycles      int `json:"maxCycles,omitempty"`
	MaxStackDepth  int `json:"maxStackDepth,omitempty"`
	MaxOutputLines int `json:"maxOutputLines,omitempty"`
}

// Command actions understood by the terminal handler.
const (
	ActionLoad         = "load"
	ActionStep         = "step"
	ActionRun          = "run"
	ActionContinue     = "continue"
	ActionPause        = "pause"
	ActionReset        = "reset"
	ActionInput        = "input"
	ActionSnapshot     = "snapshot"
	ActionBreakSet     = "break_set"
	ActionBreakClear   = "break_clear"
	ActionBreakEnable  = "break_enable"
	ActionBreakDisable = "break_disable"
	ActionWatchAdd     = "watch_add"
	ActionWatchRemove  = "watch_remove"
	ActionListBreaks   = "breakpoints"
	ActionListWatches  = "watches"
)

// EventRecord is the wire form of a runtime event.
type EventRecord struct {
	Seq       uint64 `json:"seq"`
	Kind      string `json:"kind"`
	Time      int64  `json:"time"` // unix nanoseconds
	PC        int    `json:"pc"`
	Register  int    `json:"register,omitempty"`
	Address   int    `json:"address,omitempty"`
	Old       int32  `json:"old"`
	New       int32  `json:"new"`
	Line      string `json:"line,omitempty"`
	Frame     string `json:"frame,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Milestone string `json:"milestone,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WatchRecord is the current value of one watch expression.
type WatchRecord struct {
	ID    int    `json:"id"`
	Expr  string `json:"expr"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// BreakpointRecord describes one breakpoint.
type BreakpointRecord struct {
	ID        int    `json:"id"`
	Index     int    `json:"index"`
	Label     string `json:"label,omitempty"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
	Hits      int    `json:"hits"`
}
