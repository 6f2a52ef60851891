// Package options holds flag-bindable option groups shared between the
// bridge's commands and the components they configure.
package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is the contract every option group in this package satisfies.
type IOptions interface {
	// Validate checks the option values entered by the user at startup.
	Validate() []error

	// AddFlags binds the group's fields to the given FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks that addr is a usable host:port listen address. An
// empty host means all interfaces and is accepted.
func ValidateAddress(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port in listen address %q: %w", addr, err)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port %d in listen address %q out of range", n, addr)
	}
	return nil
}
