package gherk

import (
	"context"

	"pkt.systems/gherk/internal/importer"
	"pkt.systems/pslog"
)

// ImportOptions control import of external API specs into feature skeletons.
type ImportOptions struct {
	Source          string
	OutputDir       string
	SuiteName       string
	GroupBy         string // tags|path
	Insecure        bool
	AllowRemoteRefs bool
	AllowFileRefs   bool
	// DisableAssertions skips the response-example assertion steps.
	DisableAssertions bool
	IncludePaths      []string
	Logger            pslog.Logger
}

// ImportOpenAPI generates feature skeletons from an OpenAPI/Swagger spec.
func ImportOpenAPI(ctx context.Context, opts ImportOptions) error {
	return importer.ImportOpenAPI(ctx, importer.Options{
		Source:                opts.Source,
		OutputDir:             opts.OutputDir,
		SuiteName:             opts.SuiteName,
		GroupBy:               opts.GroupBy,
		Insecure:              opts.Insecure,
		AllowRemoteRefs:       opts.AllowRemoteRefs,
		AllowFileRefs:         opts.AllowFileRefs,
		GenerateAssertions:    !opts.DisableAssertions,
		GenerateAssertionsSet: true,
		IncludePaths:          opts.IncludePaths,
		Logger:                opts.Logger,
	})
}
