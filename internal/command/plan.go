package command

import (
	"time"
)

// PartKind discriminates the content part variants a Call can carry.
type PartKind string

const (
	PartText    PartKind = "text"    // Inline text
	PartFile    PartKind = "file"    // Local-file placeholder, resolved to a remote ref at execution
	PartRemote  PartKind = "remote"  // Already-remote reference (uploaded file or provider ref)
	PartHistory PartKind = "history" // Prior conversation turn
)

// Part is one unit of call content. Exactly the fields for its kind are set.
type Part struct {
	Kind      PartKind
	Text      string // PartText, PartHistory
	Role      string // PartHistory
	LocalPath string // PartFile
	MIMEType  string // PartFile, PartRemote
	RemoteURI string // PartRemote
}

// TextPart builds an inline text part.
func TextPart(text string) Part { return Part{Kind: PartText, Text: text} }

// FilePart builds a local-file placeholder part.
func FilePart(path, mime string) Part { return Part{Kind: PartFile, LocalPath: path, MIMEType: mime} }

// RemotePart builds a part referencing already-remote content.
func RemotePart(uri, mime string) Part { return Part{Kind: PartRemote, RemoteURI: uri, MIMEType: mime} }

// HistoryPart builds a conversation-turn part.
func HistoryPart(role, text string) Part { return Part{Kind: PartHistory, Role: role, Text: text} }

// CacheApplication records how a cache name ended up on a Call. A call must
// never carry a cache name without a recorded application mode.
type CacheApplication string

const (
	CacheNone     CacheApplication = ""         // No cache applied
	CachePlan     CacheApplication = "plan"     // Derived by the planner from cache policy
	CacheOverride CacheApplication = "override" // Explicit caller-supplied cache name
)

// Call is one concrete provider request.
type Call struct {
	Model     string
	Parts     []Part
	GenConfig map[string]any
	CacheName string
	CacheMode CacheApplication
}

// RateConstraint encodes provider-tier ceilings attached to a plan. Plans
// carrying a constraint never fan out client-side.
type RateConstraint struct {
	RequestsPerMinute int
	TokensPerMinute   int
}

// UploadTask names a local file the engine must resolve to a remote
// reference before dispatch.
type UploadTask struct {
	LocalPath string
	MIMEType  string
}

// Plan is the full set of calls plus shared context needed to execute one
// request. All calls share SharedParts, the model, and the system
// instruction; that identity is what makes cache keys and telemetry
// comparable across calls.
type Plan struct {
	Calls             []Call
	SharedParts       []Part
	SystemInstruction string
	Rate              *RateConstraint
	Fallback          *Call
	Uploads           []UploadTask

	// Cache intent. CacheMode records how a cache name is to be applied;
	// the engine never infers intent ad hoc. For CachePlan the name is
	// resolved (reused or created) at execution time under CacheKey; for
	// CacheOverride the calls already carry the explicit name.
	CacheMode CacheApplication
	CacheKey  string
	CacheTTL  time.Duration
	ReuseOnly bool
}

// Validate enforces the plan invariants.
func (p Plan) Validate() error {
	if len(p.Calls) == 0 {
		return NewConfigError("plan", "plan has no calls")
	}
	model := p.Calls[0].Model
	for i, c := range p.Calls {
		if c.Model == "" {
			return NewConfigError("plan", "call %d has no model", i)
		}
		if c.Model != model {
			return NewConfigError("plan", "call %d model %q differs from %q; all calls must share one model", i, c.Model, model)
		}
		if c.CacheName != "" && c.CacheMode == CacheNone {
			return NewConfigError("plan", "call %d carries cache name %q with no application mode", i, c.CacheName)
		}
		if c.CacheName == "" && c.CacheMode != CacheNone {
			return NewConfigError("plan", "call %d records cache mode %q with no cache name", i, c.CacheMode)
		}
	}
	if p.Fallback != nil && p.Fallback.Model == "" {
		return NewConfigError("plan", "fallback call has no model")
	}
	if p.CacheMode == CachePlan && p.CacheKey == "" {
		return NewConfigError("plan", "plan-derived cache application requires a cache key")
	}
	return nil
}

// Model returns the shared model of all calls.
func (p Plan) Model() string {
	if len(p.Calls) == 0 {
		return ""
	}
	return p.Calls[0].Model
}
