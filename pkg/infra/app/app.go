// Package app runs a command built from cobra, pflag and viper.
//
// Options are resolved in this order, later sources winning: flag defaults,
// the YAML config file (--config or <name>.yaml on the search path, with
// ${VAR} references expanded), <NAME>_* environment variables and flags set
// on the command line.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cli "github.com/kart-io/docask/pkg/app"
	"github.com/kart-io/docask/pkg/app/cliflag"
)

// RunFunc runs after the options are loaded, completed and validated.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// WithName sets the command name. It also names the config file and the
// environment variable prefix.
func WithName(name string) Option { return func(a *App) { a.name = name } }

// WithDescription sets the long help text.
func WithDescription(desc string) Option { return func(a *App) { a.description = desc } }

// WithOptions sets the options filled from flags and config.
func WithOptions(opts cli.CliOptions) Option { return func(a *App) { a.options = opts } }

// WithRunFunc sets the function run by the command.
func WithRunFunc(run RunFunc) Option { return func(a *App) { a.run = run } }

// WithNoVersion omits the --version flag.
func WithNoVersion() Option { return func(a *App) { a.noVersion = true } }

// WithSilence stops cobra from printing errors; Execute still returns them.
func WithSilence() Option { return func(a *App) { a.silence = true } }

// App is a single-command application.
type App struct {
	name        string
	description string
	options     cli.CliOptions
	run         RunFunc
	noVersion   bool
	silence     bool

	cmd   *cobra.Command
	viper *viper.Viper
}

// NewApp builds the command from opts.
func NewApp(opts ...Option) *App {
	a := &App{name: filepath.Base(os.Args[0]), viper: viper.New()}
	for _, opt := range opts {
		opt(a)
	}
	a.cmd = a.command()
	return a
}

func (a *App) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           a.name,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: a.silence,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.prepare(cmd); err != nil {
				return err
			}
			if a.run == nil {
				return nil
			}
			return a.run()
		},
	}

	global := cmd.PersistentFlags()
	global.StringP("config", "c", "", "Path to the YAML config file.")
	if !a.noVersion {
		version.AddFlags(global)
	}

	if a.options == nil {
		return cmd
	}
	sections := a.options.Flags()
	for _, name := range sections.Order {
		cmd.Flags().AddFlagSet(sections.FlagSets[name])
	}
	cmd.SetUsageFunc(func(c *cobra.Command) error {
		out := c.OutOrStderr()
		fmt.Fprintf(out, "Usage:\n  %s\n", c.UseLine())
		cliflag.PrintSections(out, sections, 0)
		fmt.Fprintf(out, "\nGlobal flags:\n\n%s", c.PersistentFlags().FlagUsages())
		return nil
	})
	return cmd
}

// prepare loads, completes and validates the options.
func (a *App) prepare(cmd *cobra.Command) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}
	if a.options == nil {
		return nil
	}
	if err := a.load(cmd); err != nil {
		return err
	}
	if err := a.options.Complete(); err != nil {
		return err
	}
	return a.options.Validate()
}

// EnvPrefix is the prefix of the environment variables read by the app.
func (a *App) EnvPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(a.name, "-", "_"))
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		if a.silence {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command { return a.cmd }
