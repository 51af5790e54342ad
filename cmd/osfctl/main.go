// Command osfctl runs OSF moderation maintenance jobs and inspects the
// embedded workflow tables.
package main

import (
	"context"
	"os"

	"github.com/amp-labs/osf-moderation/logger"
	"github.com/amp-labs/osf-moderation/shutdown"
)

// Set with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals

func main() {
	ctx := shutdown.SetupHandler(context.Background())

	if err := run(ctx, defaultDeps(), os.Args[1:], os.Stdout); err != nil {
		logger.Fatal("osfctl failed", "error", err)
	}
}
