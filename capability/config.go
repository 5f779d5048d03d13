package capability

// Category routes a capability to its execution strategy in the dispatcher.
type Category string

const (
	// CategoryBuiltin capabilities run in-process behind a static handler.
	CategoryBuiltin Category = "built-in"
	// CategoryExternalAPI capabilities call out to an external HTTP service.
	CategoryExternalAPI Category = "external-api"
	// CategoryDelegatedBrowser capabilities pass through to a headless-browser
	// automation executor.
	CategoryDelegatedBrowser Category = "delegated-browser"
	// CategoryPluginProtocol capabilities speak a plugin wire protocol (MCP).
	CategoryPluginProtocol Category = "plugin-protocol"
	// CategoryUserGenerated capabilities are resolved through the dynamic
	// registry and execute user-authored code in a sandbox.
	CategoryUserGenerated Category = "user-generated"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBuiltin, CategoryExternalAPI, CategoryDelegatedBrowser,
		CategoryPluginProtocol, CategoryUserGenerated:
		return true
	default:
		return false
	}
}

// Config is the static catalog entry for one capability. Catalog entries are
// fixed at process start; only the Enabled flag may change afterwards.
// User-generated capabilities are not listed here; they live in the dynamic
// registry and synthesize a Config at resolution time.
type Config struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Category    Category       `json:"category"`
	Enabled     bool           `json:"enabled"`
	RateLimit   int            `json:"rate_limit"` // calls per minute, 0 = unlimited
	TimeoutMs   int            `json:"timeout_ms"` // per-call deadline, 0 = none
	Schema      map[string]any `json:"schema,omitempty"`
}

// Resolution is the tagged result of resolving a capability identifier.
// The static variant carries the catalog entry and its handler; the dynamic
// variant carries only the generated-capability name, deferring lookup to the
// dynamic registry. Keeping the two as distinct types preserves exhaustive
// switching in the dispatcher for the static set while leaving the dynamic
// set open-ended.
type Resolution interface {
	isResolution()
}

// StaticResolution resolves to a catalog entry.
type StaticResolution struct {
	Config  Config
	Handler Handler
}

func (StaticResolution) isResolution() {}

// DynamicResolution resolves to a user-generated capability by name.
type DynamicResolution struct {
	Name string
}

func (DynamicResolution) isResolution() {}
