package errors

import "sort"

// Template defines a registered error code.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

var registry = map[string]Template{
	// Configuration (W1xx)
	"W101": {
		Category: CategoryConfig,
		Message:  "Configuration file unreadable",
		Detail:   "The configuration file exists but could not be read.",
	},
	"W102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration JSON",
		Detail:   "The configuration file is not valid JSON or has fields of the wrong type.",
	},
	"W103": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations are written as Go duration strings such as \"500ms\", \"10s\" or \"5m\".",
	},
	"W104": {
		Category: CategoryConfig,
		Message:  "Invalid value",
		Detail:   "A configuration value is out of range.",
	},
	"W105": {
		Category: CategoryConfig,
		Message:  "Missing required value",
		Detail:   "A required configuration value is empty.",
	},

	// Transport (W2xx)
	"W201": {
		Category: CategoryTransport,
		Message:  "Listen failed",
		Detail:   "The HTTP server could not bind its address.",
	},
	"W202": {
		Category: CategoryTransport,
		Message:  "Shutdown timed out",
		Detail:   "Open connections did not drain before the shutdown timeout.",
	},

	// Relay (W25x)
	"W251": {
		Category: CategoryRelay,
		Message:  "Invalid Redis URL",
		Detail:   "The Redis URL must look like redis://[user:password@]host:port[/db].",
	},
	"W252": {
		Category: CategoryRelay,
		Message:  "Redis unreachable",
		Detail:   "The Redis server did not answer PING.",
	},
	"W253": {
		Category: CategoryRelay,
		Message:  "Publish failed",
		Detail:   "The push envelope could not be published to Redis.",
	},

	// CLI (W3xx)
	"W301": {
		Category: CategoryCLI,
		Message:  "Invalid arguments",
		Detail:   "The command was called with missing or malformed arguments.",
	},
	"W302": {
		Category: CategoryCLI,
		Message:  "Invalid JSON payload",
		Detail:   "The push payload must be a single JSON value.",
	},
}

// Codes returns every registered code, sorted.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
