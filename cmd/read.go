package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"firestige.xyz/fabric/internal/filter"
	"firestige.xyz/fabric/internal/pcap"
	"firestige.xyz/fabric/internal/protocol"
)

// addrValue is a pflag.Value holding an IPv4 or IPv6 address.
type addrValue struct{ addr *netip.Addr }

var _ pflag.Value = addrValue{}

func (v addrValue) String() string {
	if v.addr == nil || !v.addr.IsValid() {
		return ""
	}
	return v.addr.String()
}

func (v addrValue) Set(s string) error {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return err
	}
	*v.addr = a
	return nil
}

func (addrValue) Type() string { return "addr" }

type readOptions struct {
	filter filter.Options
	count  int
	write  string
}

func newReadCmd() *cobra.Command {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "read FILE",
		Short: "Print the packets of a pcap file",
		Long: `Print one line per packet of a libpcap file, optionally keeping only the
packets that match all the given selectors.

Examples:
  fabric read trace.pcap
  fabric read trace.pcap -p tcp --dport 22
  fabric read trace.pcap --host 10.0.0.1 -w host.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd.OutOrStdout(), args[0], opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.filter.Protocol, "proto", "p", "", "protocol: eth, arp, ip4, ip6, icmp, icmp6, tcp, udp")
	flags.Var(addrValue{&opts.filter.Host}, "host", "source or destination address")
	flags.Var(addrValue{&opts.filter.Src}, "src", "source address")
	flags.Var(addrValue{&opts.filter.Dst}, "dst", "destination address")
	flags.Uint16Var(&opts.filter.Port, "port", 0, "source or destination port")
	flags.Uint16Var(&opts.filter.SPort, "sport", 0, "source port")
	flags.Uint16Var(&opts.filter.DPort, "dport", 0, "destination port")
	flags.IntVarP(&opts.count, "count", "n", 0, "stop after this many matching packets")
	flags.StringVarP(&opts.write, "write", "w", "", "also write the matching packets to a pcap file")
	return cmd
}

func runRead(w io.Writer, path string, opts readOptions) (err error) {
	match, err := filter.Rule(opts.filter)
	if err != nil {
		return err
	}
	r, err := pcap.OpenFile(path)
	if err != nil {
		return err
	}
	defer r.Close()

	var out *pcap.Writer
	if opts.write != "" {
		out, err = pcap.CreateFile(opts.write, r.Header())
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, out.Close()) }()
	}

	read, matched := 0, 0
	for rec, err := range r.All() {
		read++
		if err != nil {
			return fmt.Errorf("%s: record %d: %w", path, read, err)
		}
		onion := rec.Layers()
		if !match.Match(onion) {
			continue
		}
		matched++
		fmt.Fprintf(w, "%s %s\n", rec.Timestamp().UTC().Format("15:04:05.000000"), protocol.DescribeOnion(onion))
		if out != nil {
			if err := out.WriteRecord(rec); err != nil {
				return err
			}
		}
		if opts.count > 0 && matched >= opts.count {
			break
		}
	}
	return nil
}
