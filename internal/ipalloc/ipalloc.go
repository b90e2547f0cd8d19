// Package ipalloc is a pure IPv4 allocator for the WireGuard /24: given the
// set of addresses already assigned, it hands out the next address above a
// fixed first address, strictly monotonically, never reusing a freed hole.
package ipalloc

import (
	"encoding/binary"
	"net"
)

// NextAvailable returns the next IPv4 address to assign, given the
// addresses already in assignedIPs, the subnet's netmask, and the fixed
// first address of the range.
//
// The result is max(firstAddr, max(assignedIPs)) + 1, clamped to the
// network's broadcast address. Once an address equal to the broadcast
// address has been assigned, the range is exhausted and ok is false.
func NextAvailable(assignedIPs []net.IP, netmask net.IPMask, firstAddr net.IP) (ip net.IP, ok bool) {
	maxIPNum := ipToUint32(firstAddr)
	for _, a := range assignedIPs {
		if n := ipToUint32(a); n > maxIPNum {
			maxIPNum = n
		}
	}

	netmaskNum := maskToUint32(netmask)
	networkPrefix := maxIPNum & netmaskNum
	networkRange := netmaskNum ^ 0xFFFFFFFF
	broadcast := networkPrefix + networkRange

	nextIPNum := maxIPNum + 1
	if nextIPNum > broadcast {
		return nil, false
	}
	return uint32ToIP(nextIPNum), true
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func maskToUint32(mask net.IPMask) uint32 {
	if len(mask) == 16 {
		mask = mask[12:]
	}
	return binary.BigEndian.Uint32(mask)
}

func uint32ToIP(n uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}
