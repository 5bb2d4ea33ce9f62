package domain

import (
	"context"
	"io"
)

// DumpExecutor produces an uncompressed logical dump of a database.
type DumpExecutor interface {
	// Dump streams the dump to w and returns once the dump process exits.
	Dump(ctx context.Context, conn ConnectionSpec, w io.Writer) error
	Ping(ctx context.Context, conn ConnectionSpec) error
}
