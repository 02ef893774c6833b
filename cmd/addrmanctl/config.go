// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/hozan23/bitcoin-abc/addrmgr"
	"github.com/hozan23/bitcoin-abc/asmap"
	"github.com/hozan23/bitcoin-abc/peersdb"
)

const (
	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "addrmanctl.log"
	defaultDBDirname   = "peers.ldb"

	backendFile    = "file"
	backendLevelDB = "leveldb"
)

var (
	defaultHomeDir = dcrutil.AppDataDir("addrmanctl", false)
	defaultLogDir  = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the global configuration options.
type config struct {
	DataDir    string `short:"b" long:"datadir" description:"Directory to store the peers database"`
	Backend    string `long:"backend" description:"Storage backend of the peers database" choice:"file" choice:"leveldb"`
	AsmapFile  string `long:"asmap" description:"Path to an asmap file used to group addresses by autonomous system"`
	LogDir     string `long:"logdir" description:"Directory to log output"`
	NoFileLog  bool   `long:"nofilelogging" description:"Disable file logging"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	CheckRatio int    `long:"checkratio" description:"Run the consistency check after one in this many operations (0 to disable)"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Nothing to do when no path is given.
	if path == "" {
		return path
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	if path[0] == '~' {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// defaultConfig returns the configuration with every option at its default.
func defaultConfig() config {
	return config{
		DataDir:    defaultHomeDir,
		Backend:    backendFile,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
	}
}

// normalize validates the options once they are parsed, expands the paths and
// initializes logging.
func (cfg *config) normalize() error {
	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.AsmapFile = cleanAndExpandPath(cfg.AsmapFile)
	if cfg.CheckRatio < 0 {
		return fmt.Errorf("the consistency check ratio may not be negative")
	}

	if !cfg.NoFileLog {
		err := initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
		if err != nil {
			return err
		}
	}
	return parseAndSetDebugLevels(cfg.DebugLevel)
}

// openStore opens the peers database of the configured backend.
func (cfg *config) openStore() (peersdb.Store, error) {
	switch cfg.Backend {
	case backendFile:
		path := filepath.Join(cfg.DataDir, peersdb.DefaultFileName)
		return peersdb.NewFileStore(path), nil
	case backendLevelDB:
		return peersdb.OpenLevelDBStore(filepath.Join(cfg.DataDir,
			defaultDBDirname))
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// managerConfig returns the address manager configuration.  The asmap file
// is loaded when one is configured.
func (cfg *config) managerConfig() (*addrmgr.Config, error) {
	amCfg := &addrmgr.Config{ConsistencyCheckRatio: cfg.CheckRatio}
	if cfg.AsmapFile != "" {
		bits, err := asmap.Load(cfg.AsmapFile)
		if err != nil {
			return nil, err
		}
		amCfg.Asmap = bits
	}
	return amCfg, nil
}
