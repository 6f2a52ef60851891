package options

import (
	"github.com/spf13/pflag"

	"github.com/opencardata/cardata-bridge/internal/token"
	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/options"
)

// Options holds the command line surface of the bridge. Everything about
// brokers and credentials lives in the state directory's .env and token
// files; the flags only say where that directory is, how to log, and where
// the ops listener binds.
type Options struct {
	// StateDir is the directory holding .env and the token files.
	StateDir string

	// Ops overrides the OPS_ADDR setting when the ops.addr flag is used and
	// carries the listener timeouts.
	Ops *options.HTTPOptions

	Log *log.Options
}

func NewOptions() *Options {
	return &Options{
		StateDir: token.DefaultDir(),
		Ops:      options.NewHTTPOptions(),
		Log:      log.NewOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir,
		"Directory holding the .env file and the vendor token files.")
	o.Ops.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *Options) Validate() []error {
	errs := o.Log.Validate()
	errs = append(errs, o.Ops.Validate()...)
	return errs
}
