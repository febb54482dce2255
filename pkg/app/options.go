// Package app defines the contract between command options and the
// application runner in pkg/infra/app.
package app

import "github.com/kart-io/docask/pkg/app/cliflag"

// CliOptions is implemented by the options of a command. Flags are grouped
// into named sections; Complete fills derived defaults after config loading
// and Validate reports every problem at once.
type CliOptions interface {
	// Flags returns the command flags grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete completes the options with defaults.
	Complete() error
	// Validate validates the options.
	Validate() error
}

// PrintableOptions is an optional interface for options that can print themselves.
type PrintableOptions interface {
	String() string
}
