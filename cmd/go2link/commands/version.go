// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/go2link/go2link/cmd/go2link/cli"
	"github.com/go2link/go2link/lib/version"
)

func versionCommand(stdout io.Writer) *cli.Command {
	var short bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print build version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&short, "short", false, "print only the version number")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if short {
				fmt.Fprintln(stdout, version.Short())
				return nil
			}
			fmt.Fprintf(stdout, "go2link %s\n", version.Full())
			return nil
		},
	}
}
