package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HTTPOptions)(nil)

// HTTPOptions configures the operational HTTP listener serving metrics,
// probes and the session snapshot. An empty Addr leaves the listener off,
// which is the default for a bridge that only talks MQTT.
type HTTPOptions struct {
	// Addr is the listen address. Empty disables the listener.
	Addr string `json:"addr" mapstructure:"addr"`

	// ReadTimeout and WriteTimeout bound individual requests.
	ReadTimeout  time.Duration `json:"read-timeout" mapstructure:"read-timeout"`
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// ShutdownTimeout bounds the graceful drain when the bridge stops.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHTTPOptions creates an HTTPOptions object with default parameters.
func NewHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		Addr:            "",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Enabled reports whether an address has been configured.
func (o *HTTPOptions) Enabled() bool {
	return o != nil && o.Addr != ""
}

// Validate is used to parse and validate the parameters entered by the user
// at the command line when the program starts.
func (o *HTTPOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags related to the ops HTTP listener to the specified
// FlagSet.
func (o *HTTPOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "ops.addr", o.Addr, "Listen address for metrics and health endpoints (empty disables).")
	fs.DurationVar(&o.ReadTimeout, "ops.read-timeout", o.ReadTimeout, "Read timeout for ops HTTP requests.")
	fs.DurationVar(&o.WriteTimeout, "ops.write-timeout", o.WriteTimeout, "Write timeout for ops HTTP responses.")
	fs.DurationVar(&o.ShutdownTimeout, "ops.shutdown-timeout", o.ShutdownTimeout, "Grace period for draining ops HTTP connections at shutdown.")
}
