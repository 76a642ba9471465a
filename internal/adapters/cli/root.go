// Package cli is the ragctl command tree over the inbound ports.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

type Services struct {
	Ingestor  ports.DocumentIngestor
	Reader    ports.DocumentReader
	Query     ports.DocumentQueryService
	Evaluator ports.Evaluator
}

// Loader builds the services on first use so --help works without backends.
type Loader func(ctx context.Context) (*Services, func(), error)

type cli struct {
	load     Loader
	services *Services
	closeFn  func()
}

// NewRootCommand returns the command tree and a cleanup that releases any
// services a command loaded.
func NewRootCommand(load Loader) (*cobra.Command, func()) {
	c := &cli{load: load}
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Ingest documents and ask grounded questions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// cobra prints to stderr unless an output writer is set.
	root.SetOut(os.Stdout)
	root.AddCommand(
		c.ingestCommand(),
		c.askCommand(),
		c.docsCommand(),
		c.evalCommand(),
		c.forgetCommand(),
	)
	return root, c.close
}

func (c *cli) close() {
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

func (c *cli) ensure(cmd *cobra.Command) (*Services, error) {
	if c.services != nil {
		return c.services, nil
	}
	if c.load == nil {
		return nil, errors.New("services not configured")
	}
	services, closeFn, err := c.load(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	c.services, c.closeFn = services, closeFn
	return services, nil
}
