package filter

import "net/netip"

// Options are the tcpdump-like selection flags. Zero fields are ignored.
type Options struct {
	Protocol string
	Host     netip.Addr
	Src      netip.Addr
	Dst      netip.Addr
	Port     uint16
	SPort    uint16
	DPort    uint16
}

// Rule returns the conjunction of the set options, or All if none is set.
func Rule(opts Options) (Match, error) {
	var rule []Match
	if opts.Protocol != "" {
		p, err := ParseProtocol(opts.Protocol)
		if err != nil {
			return nil, err
		}
		rule = append(rule, p)
	}
	if opts.Host.IsValid() {
		rule = append(rule, Host(opts.Host, Any))
	}
	if opts.Src.IsValid() {
		rule = append(rule, Host(opts.Src, Src))
	}
	if opts.Dst.IsValid() {
		rule = append(rule, Host(opts.Dst, Dst))
	}
	if opts.Port != 0 {
		rule = append(rule, Port(opts.Port, Any))
	}
	if opts.SPort != 0 {
		rule = append(rule, Port(opts.SPort, Src))
	}
	if opts.DPort != 0 {
		rule = append(rule, Port(opts.DPort, Dst))
	}
	if len(rule) == 0 {
		return All, nil
	}
	return And(rule...), nil
}
