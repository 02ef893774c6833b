// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
)

// cfg holds the global options shared by every command.
var cfg = defaultConfig()

func main() {
	parser := flags.NewParser(&cfg, flags.Default)
	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to register command %s: %v\n",
				c.name, err)
			os.Exit(1)
		}
	}

	// The global options are only final once the command is known, so the
	// logging setup happens right before the command runs.
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := cfg.normalize(); err != nil {
			return err
		}
		defer func() {
			if logRotator != nil {
				logRotator.Close()
			}
		}()
		return cmd.Execute(args)
	}

	if _, err := parser.Parse(); err != nil {
		var e *flags.Error
		if errors.As(err, &e) {
			if e.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
