package importer

import (
	"net/url"

	"pkt.systems/pslog"
)

// Options describes import settings for OpenAPI/Swagger conversion.
type Options struct {
	Source    string
	OutputDir string
	// SuiteName overrides the generated env/feature naming; defaults to the
	// spec's info.title.
	SuiteName string
	GroupBy   string // tags|path
	Insecure  bool
	// AllowRemoteRefs permits $ref resolution against hosts other than the
	// spec's own origin.
	AllowRemoteRefs bool
	// AllowFileRefs permits $ref resolution outside the spec's directory tree.
	AllowFileRefs bool
	IncludePaths  []string
	// GenerateAssertions adds response-body assertion steps derived from the
	// spec's response examples. Defaults to true.
	GenerateAssertions    bool
	GenerateAssertionsSet bool
	Logger                pslog.Logger
	// BaseLocation tracks the original spec location (file or URL) for ref
	// resolution.
	BaseLocation *url.URL
}
