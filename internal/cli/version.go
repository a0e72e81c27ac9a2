package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/searchmeter/internal/config"
	"github.com/studiowebux/searchmeter/internal/solr"
	"github.com/studiowebux/searchmeter/internal/version"
)

const versionTimeout = 5 * time.Second

// VersionOptions are the flags of the version command
type VersionOptions struct {
	Options
	// Binary is the version of this build
	Binary string
	// Offline skips asking the server
	Offline bool
}

// Version prints the binary version and the release of the configured server
func Version(opts VersionOptions) error {
	if opts.Offline {
		fmt.Fprintf(os.Stdout, "searchmeter %s\n", opts.Binary)
		return nil
	}

	path := config.ResolveConfigPath(opts.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	client, err := solr.NewClient(cfg.Solr, zap.NewNop())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()
	return printVersion(ctx, os.Stdout, opts.Binary, cfg.Solr.BaseURL, client)
}

type versionSource interface {
	ServerVersion(ctx context.Context) (string, error)
}

func printVersion(ctx context.Context, w io.Writer, binary, url string, src versionSource) error {
	fmt.Fprintf(w, "searchmeter %s\n", binary)

	server, err := src.ServerVersion(ctx)
	if err != nil {
		fmt.Fprintf(w, "server      %s (unreachable: %v)\n", url, err)
		return nil
	}
	fmt.Fprintf(w, "server      %s (%s)\n", url, server)
	if !version.AtLeast(server, version.MinimumServer) {
		fmt.Fprintf(w, "warning: server %s is older than %s, response fields may be missing\n", server, version.MinimumServer)
	}
	return nil
}
