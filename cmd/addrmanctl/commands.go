// Copyright (c) 2025 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/decred/dcrd/wire"
	"github.com/hozan23/bitcoin-abc/addrmgr"
	"github.com/hozan23/bitcoin-abc/asmap"
	"github.com/hozan23/bitcoin-abc/peersdb"
)

// out is where command results are written.
var out io.Writer = os.Stdout

// commands lists the commands understood by addrmanctl.
var commands = []struct {
	name, short, long string
	cmd               any
}{
	{"info", "Show a summary of the peers database",
		"Show the number of new and tried addresses, the serialization " +
			"format and the asmap in use.", &infoCmd{}},
	{"dump", "List every known address",
		"List every known address along with its source and statistics.",
		&dumpCmd{}},
	{"check", "Verify the address tables",
		"Run the full consistency check of the address tables.", &checkCmd{}},
	{"add", "Add addresses",
		"Add the given host:port addresses as if they were announced by " +
			"the source and save the peers database.", &addCmd{}},
	{"good", "Mark addresses as reachable",
		"Record a successful connection to the given host:port addresses " +
			"and save the peers database.", &goodCmd{}},
	{"select", "Pick addresses to connect to",
		"Select addresses the way outbound connections pick them.",
		&selectCmd{}},
	{"getaddr", "Sample addresses to share",
		"Return a random sample of addresses as sent in reply to a " +
			"getaddr request.", &getAddrCmd{}},
}

// networks maps the names accepted by the network filter to network classes.
var networks = map[string]addrmgr.Network{
	"any":   addrmgr.AnyNetwork,
	"ipv4":  addrmgr.NetIPv4,
	"ipv6":  addrmgr.NetIPv6,
	"onion": addrmgr.NetOnion,
	"i2p":   addrmgr.NetI2P,
	"cjdns": addrmgr.NetCJDNS,
}

// session is an address manager loaded from the configured peers database.
type session struct {
	am    *addrmgr.AddrManager
	store peersdb.Store
}

// openSession opens the peers database and restores the address manager
// from it.
func openSession() (*session, error) {
	amCfg, err := cfg.managerConfig()
	if err != nil {
		return nil, err
	}
	store, err := cfg.openStore()
	if err != nil {
		return nil, err
	}
	am := addrmgr.New(amCfg)
	if err := peersdb.LoadInto(am, store); err != nil {
		store.Close()
		return nil, err
	}
	return &session{am: am, store: store}, nil
}

// save writes the address manager back to the peers database.
func (s *session) save() error {
	return peersdb.NewDumper(s.am, s.store, 0).Save()
}

// close releases the peers database.
func (s *session) close() {
	if err := s.store.Close(); err != nil {
		ctlLog.Errorf("Failed to close peers database: %v", err)
	}
}

// parseAddrs parses host:port arguments into network addresses.
func parseAddrs(args []string, services wire.ServiceFlag) ([]*addrmgr.NetAddress, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no addresses specified")
	}
	addrs := make([]*addrmgr.NetAddress, 0, len(args))
	for _, arg := range args {
		na, err := addrmgr.NewNetAddressFromString(arg, services)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}
		addrs = append(addrs, na)
	}
	return addrs, nil
}

// formatTime returns the time as a string or "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() || t.Unix() <= 1 {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

type infoCmd struct{}

func (c *infoCmd) Execute(args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	format := "none"
	if state, err := s.store.Load(); err == nil && len(state) > 0 {
		format = addrmgr.Format(state[0]).String()
	}
	checksum := "none"
	if bits := s.am.Asmap(); len(bits) > 0 {
		checksum = asmap.Checksum(bits).String()
	}
	newCount, triedCount := s.am.Counts()
	fmt.Fprintf(out, "addresses: %d\n", s.am.Size())
	fmt.Fprintf(out, "new:       %d\n", newCount)
	fmt.Fprintf(out, "tried:     %d\n", triedCount)
	fmt.Fprintf(out, "format:    %s\n", format)
	fmt.Fprintf(out, "asmap:     %s\n", checksum)
	return nil
}

type dumpCmd struct {
	TriedOnly bool `long:"tried" description:"Only list tried addresses"`
}

func (c *dumpCmd) Execute(args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSOURCE\tTABLE\tSERVICES\tATTEMPTS\tLAST SUCCESS\tLAST TRY")
	for _, ai := range s.am.Entries() {
		if c.TriedOnly && !ai.InTried() {
			continue
		}
		table := "new"
		if ai.InTried() {
			table = "tried"
		}
		// The port of the source is not persisted.
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\t%s\n", ai.NetAddress,
			ai.Source.Host(), table, ai.NetAddress.Services, ai.Attempts,
			formatTime(ai.LastSuccess), formatTime(ai.LastTry))
	}
	return tw.Flush()
}

type checkCmd struct{}

func (c *checkCmd) Execute(args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.am.CheckConsistency(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d addresses are consistent\n", s.am.Size())
	return nil
}

type addCmd struct {
	Source   string        `long:"source" description:"host:port of the peer announcing the addresses" required:"true"`
	Services uint64        `long:"services" description:"Service flags of the added addresses" default:"1"`
	Penalty  time.Duration `long:"penalty" description:"Age subtracted from the announced timestamps"`
}

func (c *addCmd) Execute(args []string) error {
	src, err := addrmgr.NewNetAddressFromString(c.Source, 0)
	if err != nil {
		return fmt.Errorf("invalid source %q: %w", c.Source, err)
	}
	addrs, err := parseAddrs(args, wire.ServiceFlag(c.Services))
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	before := s.am.Size()
	s.am.Add(addrs, src, c.Penalty)
	fmt.Fprintf(out, "added %d of %d addresses\n", s.am.Size()-before,
		len(addrs))
	return s.save()
}

type goodCmd struct{}

func (c *goodCmd) Execute(args []string) error {
	addrs, err := parseAddrs(args, 0)
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	now := time.Now()
	for _, na := range addrs {
		s.am.Good(na, true, now)
	}
	s.am.ResolveCollisions()
	_, triedCount := s.am.Counts()
	fmt.Fprintf(out, "%d tried addresses\n", triedCount)
	return s.save()
}

type selectCmd struct {
	Count   int  `short:"n" long:"count" description:"Number of selections" default:"1"`
	NewOnly bool `long:"newonly" description:"Only select addresses from the new table"`
}

func (c *selectCmd) Execute(args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	for i := 0; i < c.Count; i++ {
		ai := s.am.Select(c.NewOnly)
		if ai == nil {
			return fmt.Errorf("no address available")
		}
		table := "new"
		if ai.InTried() {
			table = "tried"
		}
		fmt.Fprintf(out, "%s %s\n", ai.NetAddress, table)
	}
	return nil
}

type getAddrCmd struct {
	Max     int    `long:"max" description:"Maximum number of addresses (0 for no limit)"`
	Pct     int    `long:"pct" description:"Maximum percentage of the known addresses (0 for no limit)" default:"23"`
	Network string `long:"network" description:"Only return addresses of this network" choice:"any" choice:"ipv4" choice:"ipv6" choice:"onion" choice:"i2p" choice:"cjdns" default:"any"`
}

func (c *getAddrCmd) Execute(args []string) error {
	network, ok := networks[strings.ToLower(c.Network)]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	for _, na := range s.am.GetAddr(c.Max, c.Pct, network) {
		fmt.Fprintln(out, na)
	}
	return nil
}
