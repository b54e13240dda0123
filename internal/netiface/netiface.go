// Package netiface queries the chosen network interface (MTU, index,
// primary IPv4 address, MAC) and opens the multicast sockets the PTP slave
// and RTP engine need, with the socket options §6 requires.
package netiface

import (
	"fmt"
	"net"
)

// Interface is a resolved view of the interface the bridge sends/receives
// on: its MTU, index, primary IPv4 address and MAC, used both for socket
// setup and for deriving the PTP source identity (§6).
type Interface struct {
	Name  string
	MTU   int
	Index int
	Addr  net.IP
	MAC   net.HardwareAddr
}

// Resolve looks up an interface by name. If name is empty, it chooses the
// first interface carrying a usable IPv4 address and a non-empty hardware
// address (a reasonable default on single-homed hosts; multi-homed hosts
// should pass --interface explicitly, matching the original's required-ish
// -i flag in practice).
func Resolve(name string) (*Interface, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("netiface: lookup %q: %w", name, err)
		}
		return fromNetInterface(iface)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("netiface: enumerate interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		if addr, err := primaryIPv4(iface); err == nil && addr != nil {
			return &Interface{
				Name:  iface.Name,
				MTU:   iface.MTU,
				Index: iface.Index,
				Addr:  addr,
				MAC:   iface.HardwareAddr,
			}, nil
		}
	}
	return nil, fmt.Errorf("netiface: no usable multicast-capable interface found")
}

func fromNetInterface(iface *net.Interface) (*Interface, error) {
	addr, err := primaryIPv4(*iface)
	if err != nil {
		return nil, err
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("netiface: interface %q has no EUI-48 hardware address", iface.Name)
	}
	return &Interface{
		Name:  iface.Name,
		MTU:   iface.MTU,
		Index: iface.Index,
		Addr:  addr,
		MAC:   iface.HardwareAddr,
	}, nil
}

func primaryIPv4(iface net.Interface) (net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netiface: addrs for %q: %w", iface.Name, err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("netiface: interface %q has no IPv4 address", iface.Name)
}
