// Package modules defines the diagnostic module interface and provides the
// registry the command-line harness dispatches on. Each module is selected by
// its declared name, contributes its own flags, and renders a line-oriented
// report for one inspection target.
package modules

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/richl9/drgn-tools/internal/kcore"
)

// Module is the interface every diagnostic report implements.
type Module interface {
	// Name returns the unique identifier the harness selects this module by.
	Name() string

	// Synopsis returns a one-line description for listings.
	Synopsis() string

	// Flags registers the module's command-line flags, if any.
	Flags(fs *pflag.FlagSet)

	// Run produces the report on out. Introspection failures abort the run;
	// a module never retries.
	Run(ctx context.Context, k kcore.Kernel, out io.Writer) error
}
