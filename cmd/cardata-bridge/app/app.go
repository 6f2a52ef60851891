package app

import (
	"context"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/opencardata/cardata-bridge/cmd/cardata-bridge/app/options"
	"github.com/opencardata/cardata-bridge/internal/bridge"
	"github.com/opencardata/cardata-bridge/internal/token"
	"github.com/opencardata/cardata-bridge/pkg/log"
)

const (
	commandName = "cardata-bridge"
	commandDesc = `The CarData bridge keeps an authenticated MQTT session to the BMW CarData
streaming endpoint and republishes everything it receives to a local
Mosquitto broker: a byte-identical raw copy under <prefix>raw/... and one
message per vehicle property under <prefix>vehicles/<vin>/<property>.

Broker settings and account ids are read from a .env file in the state
directory, with environment variables taking precedence. The identity
token doubles as the MQTT password and is refreshed before it expires;
token files rewritten by an external login flow are adopted from disk.`
)

// NewBridgeCommand builds the root command. ctx ends on SIGINT or SIGTERM.
func NewBridgeCommand(ctx context.Context) *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:          commandName,
		Short:        "Forward BMW CarData streaming messages to a local broker",
		Long:         commandDesc,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ctx, opts, cmd.Flags().Changed("ops.addr"))
		},
	}

	opts.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(newConfigCommand(opts))
	return cmd
}

func run(ctx context.Context, opts *options.Options, opsAddrSet bool) error {
	if errs := opts.Validate(); len(errs) > 0 {
		return fmt.Errorf("invalid options: %v", errs)
	}
	log.Init(opts.Log)

	log.Info("CarData bridge starting", "stateDir", opts.StateDir)

	store, err := token.NewStore(opts.StateDir)
	if err != nil {
		return &bridge.ExitError{Code: bridge.ExitCodeConfig, Err: err}
	}
	cfg, err := bridge.Load(opts.StateDir)
	if err != nil {
		return &bridge.ExitError{Code: bridge.ExitCodeConfig, Err: err}
	}

	// The flags own the ops listener configuration; OPS_ADDR from the
	// environment supplies the address when the flag is not used.
	if !opsAddrSet {
		opts.Ops.Addr = cfg.Ops.Addr
	}
	cfg.Ops = opts.Ops

	b, err := bridge.New(cfg, store)
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

// newConfigCommand prints the configuration as resolved from defaults, the
// .env file and the environment, with anything secret masked.
func newConfigCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bridge.Load(opts.StateDir)
			if err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("SETTING", "VALUE")
			table.AddRow("state dir", opts.StateDir)
			table.AddRow("client id", maskID(cfg.ClientID))
			table.AddRow("account id", maskID(cfg.AccountID))
			table.AddRow("vendor broker", fmt.Sprintf("%s:%d", cfg.VendorHost, cfg.VendorPort))
			table.AddRow("vendor ca file", orDash(cfg.VendorCAFile))
			table.AddRow("local broker", fmt.Sprintf("%s:%d", cfg.LocalHost, cfg.LocalPort))
			table.AddRow("local prefix", cfg.LocalPrefix)
			table.AddRow("local user", orDash(cfg.LocalUser))
			table.AddRow("local password", maskSecret(cfg.LocalPassword))
			table.AddRow("ops addr", orDash(cfg.Ops.Addr))
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

// maskID keeps enough of an id to recognise it without printing all of it.
func maskID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8] + "..."
}

func maskSecret(v string) string {
	if v == "" {
		return "-"
	}
	return "********"
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
