// Package cli provides the signpdf command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/georgepadayatti/signpdf/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// ErrNotVerified is returned by the verify command when the document
// signature does not verify. The outcome has already been printed.
var ErrNotVerified = errors.New("signature not verified")

// app carries the state shared by the subcommands of one invocation.
type app struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    *config.AppConfig
	logger *logrus.Logger
	closer io.Closer
}

// setup loads the configuration file, applies the global logging flags and
// builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.configFile != "" {
		cfg, err := config.LoadAppConfig(a.configFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else {
		a.cfg = config.DefaultAppConfig()
	}

	if cmd.Flags().Changed("log-level") {
		a.cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		a.cfg.Logging.Format = a.logFormat
	}

	logger, closer, err := config.NewLogger(a.cfg.Logging)
	if err != nil {
		return err
	}
	a.logger, a.closer = logger, closer
	return nil
}

func (a *app) teardown() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "signpdf",
		Short: "Sign and verify PDF documents prepared with a signature placeholder",
		Long: `signpdf fills the ByteRange and Contents placeholder of a prepared PDF
with a detached CMS signature, and verifies documents signed that way.

Signing credentials come from a PKCS#12 file or, through a configuration
file, from a PKCS#11 token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(newSignCmd(a))
	rootCmd.AddCommand(newVerifyCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "signpdf version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
			return nil
		},
	}
}
