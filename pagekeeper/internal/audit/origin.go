package audit

import "context"

// Sources of audited operations.
const (
	SourceAPI = "api"
	SourceMCP = "mcp"
	SourceCLI = "cli"
)

type originKey struct{}

type origin struct {
	source    string
	requestID string
}

// WithOrigin tags ctx with the surface an operation came through.
func WithOrigin(ctx context.Context, source, requestID string) context.Context {
	return context.WithValue(ctx, originKey{}, origin{source: source, requestID: requestID})
}

// Source returns the source stored in ctx, or SourceCLI.
func Source(ctx context.Context) string {
	return originFrom(ctx).source
}

func originFrom(ctx context.Context) origin {
	if o, ok := ctx.Value(originKey{}).(origin); ok && o.source != "" {
		return o
	}
	return origin{source: SourceCLI}
}
