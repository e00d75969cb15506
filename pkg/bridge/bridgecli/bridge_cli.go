package bridgecli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/neuroplastio/neio-pad/pkg/bridge"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	return execute(ctx, filepath.Join(dir, "neio-pad"), args, in, out, errOut)
}

func execute(ctx context.Context, configDir string, args []string, in io.Reader, out, errOut io.Writer) error {
	cmd, closeBridge := NewRootCmd(configDir)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	err := cmd.ExecuteContext(ctx)
	closeErr := closeBridge()
	if err != nil {
		return err
	}
	return closeErr
}

type bridgeProvider func() *bridge.Bridge

// NewRootCmd returns the command tree and a func that releases the bridge the command created.
// Cobra skips post-run hooks when a command fails, so the caller closes after Execute.
func NewRootCmd(configDir string) (*cobra.Command, func() error) {
	cfg := bridge.Config{
		DataDir:      filepath.Join(configDir, "data"),
		BridgeConfig: filepath.Join(configDir, "bridge.yml"),
	}
	rootCmd := &cobra.Command{
		Use:           "neio-pad",
		Short:         "Neuroplast.io gamepad bridge",
		Long:          `neio-pad forwards game controller input to a Neuroplast.io device over TCP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var b *bridge.Bridge
	provider := func() *bridge.Bridge {
		return b
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.BridgeConfig, "config", cfg.BridgeConfig, "bridge config file")
	rootCmd.PersistentFlags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every sent line")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		b, err = bridge.NewBridge(cfg)
		return err
	}
	closeBridge := func() error {
		if b == nil {
			return nil
		}
		err := b.Close()
		b = nil
		return err
	}
	rootCmd.AddCommand(NewRun(provider))
	rootCmd.AddCommand(NewMonitor(provider))
	rootCmd.AddCommand(NewPing(provider))
	rootCmd.AddCommand(NewListControllers(provider))
	return rootCmd, closeBridge
}

func NewRun(b bridgeProvider) *cobra.Command {
	var (
		address     string
		sensitivity float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forward controller input to the device",
		Long:  `Connect to the device and forward button and stick changes until the controller quits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return b().Run(cmd.Context(), flagOverrides(cmd, address, sensitivity)...)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "device address, overrides the config file")
	cmd.Flags().Float64Var(&sensitivity, "sensitivity", 0, "axis change threshold in [0, 1), overrides the config file")
	return cmd
}

func NewMonitor(b bridgeProvider) *cobra.Command {
	var sensitivity float64
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print the lines that would be sent",
		Long:  `Read the controller and print every protocol line to stdout. Press Guide to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return b().Monitor(cmd.Context(), cmd.OutOrStdout(), flagOverrides(cmd, "", sensitivity)...)
		},
	}
	cmd.Flags().Float64Var(&sensitivity, "sensitivity", 0, "axis change threshold in [0, 1), overrides the config file")
	return cmd
}

func NewPing(b bridgeProvider) *cobra.Command {
	var (
		address string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the connection to the device",
		Long:  `Send a greeting to the device and print its reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := b().Ping(cmd.Context(), timeout, flagOverrides(cmd, address, 0)...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Received: %s\n", reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "device address, overrides the config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a reply")
	return cmd
}

func NewListControllers(b bridgeProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-controllers",
		Short: "List known controllers",
		Long:  `List controllers used by previous sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			controllers, err := b().Devices().ListControllers()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(controllers, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func flagOverrides(cmd *cobra.Command, address string, sensitivity float64) []bridge.Override {
	var overrides []bridge.Override
	if cmd.Flags().Changed("address") {
		overrides = append(overrides, func(s *bridge.Settings) {
			s.Address = address
		})
	}
	if cmd.Flags().Changed("sensitivity") {
		overrides = append(overrides, func(s *bridge.Settings) {
			s.Sensitivity = sensitivity
		})
	}
	return overrides
}
