package netiface

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// TOSFlashoverrideThroughput is IPTOS_PREC_FLASHOVERRIDE | IPTOS_THROUGHPUT,
// the AES67 DSCP AF41-equivalent type-of-service byte §6 requires on
// sender sockets.
const TOSFlashoverrideThroughput = 0x80 | 0x08

// MulticastTTL is the fixed outbound TTL §6 specifies for sender sockets.
const MulticastTTL = 32

// OpenSend opens a UDP socket connected to group:port, bound for outbound
// multicast on iface, with the TOS and TTL §6 requires. The returned
// net.Conn is the plain *net.UDPConn: the ipv4.PacketConn wrapper used to
// apply the multicast options is only a configuration handle and is
// discarded, since its ReadFrom/WriteTo shadow net.Conn's simpler
// signatures and callers want the latter.
func OpenSend(iface *Interface, group string, port uint16) (net.Conn, error) {
	raddr := &net.UDPAddr{IP: net.ParseIP(group), Port: int(port)}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("netiface: dial %s:%d: %w", group, port, err)
	}

	pc := ipv4.NewPacketConn(conn)

	netIface := &net.Interface{Index: iface.Index, Name: iface.Name, MTU: iface.MTU, HardwareAddr: iface.MAC}
	if err := pc.SetMulticastInterface(netIface); err != nil {
		return nil, fmt.Errorf("netiface: set multicast interface: %w", err)
	}
	if err := pc.SetTOS(TOSFlashoverrideThroughput); err != nil {
		return nil, fmt.Errorf("netiface: set tos: %w", err)
	}
	if err := pc.SetMulticastTTL(MulticastTTL); err != nil {
		return nil, fmt.Errorf("netiface: set multicast ttl: %w", err)
	}
	return conn, nil
}

// OpenRecv opens a UDP socket joined to group:port on iface, with
// SO_REUSEPORT/SO_REUSEADDR set before bind, matching §6's receiver
// socket configuration. As with OpenSend, the ipv4.PacketConn used to
// join the multicast group is a configuration handle only; the returned
// net.PacketConn is the plain listener so callers get net.PacketConn's
// 3-return-value ReadFrom.
func OpenRecv(iface *Interface, group string, port uint16) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); e != nil {
					sockErr = e
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf("%s:%d", group, port)
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("netiface: listen %s: %w", addr, err)
	}

	ipc := ipv4.NewPacketConn(pc)
	netIface := &net.Interface{Index: iface.Index, Name: iface.Name, MTU: iface.MTU, HardwareAddr: iface.MAC}
	if err := ipc.JoinGroup(netIface, &net.UDPAddr{IP: net.ParseIP(group)}); err != nil {
		return nil, fmt.Errorf("netiface: join group %s on %s: %w", group, iface.Name, err)
	}
	return pc, nil
}
