// Command cmssign creates, extends and inspects CMS signatures.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/internal/config"
	"github.com/mdean75/cms-engine/internal/logging"
)

// Build-time variables
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the state shared by every subcommand once the persistent flags
// are parsed.
type app struct {
	configPath  string
	logLevel    string
	development bool

	profile *config.Profile
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "cmssign",
		Short: "Create, cosign, countersign and inspect CMS signatures",
		Long: `cmssign produces CMS SignedData (RFC 5652) and PKCS #7
SignedAndEnvelopedData structures and extends existing ones.

Examples:
  # Attached signature with a PKCS #12 key
  cmssign sign --in doc.pdf --p12 signer.p12 --password secret -o doc.pdf.csig

  # Add a second signer to a detached signature
  cmssign cosign doc.p7s --in doc.pdf --key bob.key --cert bob.crt -o doc.p7s

  # Countersign node 2 of the signer tree
  cmssign countersign doc.p7s --target nodes --index 2 --key ca.key --cert ca.crt

  # Print the signer tree
  cmssign tree doc.p7s`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML signing profile")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.development, "log-dev", false, "Human readable log output")

	cmd.AddCommand(
		newSignCmd(a),
		newCosignCmd(a),
		newCountersignCmd(a),
		newEnvelopeCmd(a),
		newDecryptCmd(a),
		newTreeCmd(a),
		newInfoCmd(a),
		newExtractCmd(a),
		newMimeCmd(a),
		newVerifyCmd(a),
	)
	return cmd
}

// setup loads the profile and builds the logger. Flags override the profile.
func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.profile, err = config.Load(a.configPath)
	} else {
		a.profile, err = config.Parse(nil)
	}
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:       a.profile.Logging.Level,
		Development: a.profile.Logging.Development || a.development,
	}
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	if logCfg.Level == "" {
		logCfg.Level = "warn"
	}
	a.logger, err = logging.New(logCfg, logging.WithOutput(zapcore.AddSync(cmd.ErrOrStderr())))
	if err != nil {
		return err
	}
	cmd.SetContext(logging.CtxWith(cmd.Context(), a.logger))
	return nil
}

func (a *app) engine(cmd *cobra.Command) *cms.Engine {
	return cms.NewEngine(cms.WithLogger(logging.FromCtx(cmd.Context()).Named(cmd.Name())))
}
