package netlinkx

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/mdlayher/netlink"
)

// Message types and attribute numbers used by the netlink-style route
// control protocol. Both the Linux backend (real rtnetlink) and the
// BSD backend (FreeBSD's netlink-compatible route socket) speak the
// same wire shape, so the attribute numbering lives here once.
const (
	rtmNewLink  = 16
	rtmDelLink  = 17
	rtmGetLink  = 18
	rtmNewAddr  = 20
	rtmDelAddr  = 21
	rtmGetAddr  = 22
	rtmNewRoute = 24
	rtmDelRoute = 25
	rtmGetRoute = 26

	nlmFRequest = 0x1
	nlmFMulti   = 0x2
	nlmFAck     = 0x4
	nlmFRoot    = 0x100
	nlmFMatch   = 0x200
	nlmFCreate  = 0x400
	nlmFExcl    = 0x200
	nlmFDump    = nlmFRoot | nlmFMatch

	nlmsgNoop  = 0x1
	nlmsgError = 0x2
	nlmsgDone  = 0x3

	afUnspec = 0
	afInet   = 2
	afInet6  = 10

	iflaIfname = 3
	iflaFlags  = 8

	ifaAddress = 1
	ifaLocal   = 2

	rtaDst     = 1
	rtaOif     = 4
	rtaGateway = 5
	rtaTable   = 15
	rtaRtflags = 16 // local numbering; no standard Linux equivalent, carried for BSD parity

	rtProtoStatic = 4
	rtScopeUniv   = 0
	rtTypeUnicast = 1

	ifUp = 0x1
)

func familyFromIP(ip net.IP) (uint8, error) {
	if ip4 := ip.To4(); ip4 != nil && ip.To16() != nil && len(ip) == net.IPv4len {
		return afInet, nil
	}
	if ip.To4() != nil {
		return afInet, nil
	}
	if ip.To16() != nil {
		return afInet6, nil
	}
	return 0, fmt.Errorf("address %v is neither IPv4 nor IPv6", ip)
}

func packedAddr(family uint8, ip net.IP) []byte {
	if family == afInet {
		return ip.To4()
	}
	return ip.To16()
}

// ifinfomsg header: family(1) pad(1) type(2) index(4) flags(4) change(4)
func encodeIfinfomsg(index int, flags, change uint32) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[4:8], uint32(index))
	binary.LittleEndian.PutUint32(b[8:12], flags)
	binary.LittleEndian.PutUint32(b[12:16], change)
	return b
}

func decodeIfinfomsg(b []byte) (index int, flags uint32, err error) {
	if len(b) < 16 {
		return 0, 0, fmt.Errorf("ifinfomsg: short message (%d bytes)", len(b))
	}
	return int(int32(binary.LittleEndian.Uint32(b[4:8]))), binary.LittleEndian.Uint32(b[8:12]), nil
}

// ifaddrmsg header: family(1) prefixlen(1) flags(1) scope(1) index(4)
func decodeIfaddrmsg(b []byte) (family uint8, prefixLen uint8, index int, err error) {
	if len(b) < 8 {
		return 0, 0, 0, fmt.Errorf("ifaddrmsg: short message (%d bytes)", len(b))
	}
	return b[0], b[1], int(binary.LittleEndian.Uint32(b[4:8])), nil
}

func encodeIfaddrmsg(family uint8, prefixLen uint8, index int) []byte {
	b := make([]byte, 8)
	b[0] = family
	b[1] = prefixLen
	binary.LittleEndian.PutUint32(b[4:8], uint32(index))
	return b
}

// rtmsg header: family dst_len src_len tos table protocol scope type, flags(4)
func encodeRtmsg(family uint8, dstLen uint8, table uint8, flags uint32) []byte {
	b := make([]byte, 12)
	b[0] = family
	b[1] = dstLen
	b[4] = table
	b[5] = rtProtoStatic
	b[6] = rtScopeUniv
	b[7] = rtTypeUnicast
	binary.LittleEndian.PutUint32(b[8:12], flags)
	return b
}

func decodeRtmsg(b []byte) (family uint8, dstLen uint8, table uint8, err error) {
	if len(b) < 12 {
		return 0, 0, 0, fmt.Errorf("rtmsg: short message (%d bytes)", len(b))
	}
	return b[0], b[1], b[4], nil
}

func encodeAttrs(fn func(ae *netlink.AttributeEncoder) error) ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	if err := fn(ae); err != nil {
		return nil, err
	}
	return ae.Encode()
}

func decodeAttrs(b []byte, fn func(ad *netlink.AttributeDecoder)) error {
	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return err
	}
	for ad.Next() {
		fn(ad)
	}
	return ad.Err()
}

func addrBits(family uint8) int {
	if family == afInet6 {
		return 128
	}
	return 32
}

// parseEvent decodes a single netlink.Message into an Event. It is
// shared by both backends: the message envelope shape is identical
// whether it came off an mdlayher/netlink.Conn or a hand-rolled BSD
// route socket. ok is false for message types neither backend
// forwards as events (NOOP, DONE, unrelated RTM_* types).
func parseEvent(m netlink.Message) (Event, bool, error) {
	switch int(m.Header.Type) {
	case rtmNewLink, rtmDelLink:
		idx, flags, err := decodeIfinfomsg(m.Data)
		if err != nil {
			return Event{}, false, err
		}
		rec := &LinkRecord{Index: idx, Up: flags&ifUp != 0}
		if len(m.Data) > 16 {
			_ = decodeAttrs(m.Data[16:], func(ad *netlink.AttributeDecoder) {
				if ad.Type() == iflaIfname {
					rec.Name = ad.String()
				}
			})
		}
		kind := EventNewLink
		if int(m.Header.Type) == rtmDelLink {
			kind = EventDelLink
		}
		return Event{Kind: kind, Link: rec}, true, nil
	case rtmNewAddr, rtmDelAddr:
		family, prefixLen, index, err := decodeIfaddrmsg(m.Data)
		if err != nil {
			return Event{}, false, err
		}
		var ip net.IP
		if len(m.Data) > 8 {
			_ = decodeAttrs(m.Data[8:], func(ad *netlink.AttributeDecoder) {
				if (ad.Type() == ifaLocal || ad.Type() == ifaAddress) && ip == nil {
					ip = append(net.IP(nil), ad.Bytes()...)
				}
			})
		}
		if ip == nil {
			return Event{}, false, nil
		}
		rec := &AddrRecord{LinkIndex: index, Address: &net.IPNet{IP: ip, Mask: net.CIDRMask(int(prefixLen), addrBits(family))}}
		kind := EventNewAddr
		if int(m.Header.Type) == rtmDelAddr {
			kind = EventDelAddr
		}
		return Event{Kind: kind, Addr: rec}, true, nil
	case rtmNewRoute, rtmDelRoute:
		family, dstLen, _, err := decodeRtmsg(m.Data)
		if err != nil {
			return Event{}, false, err
		}
		var dst, gw net.IP
		var oif int
		if len(m.Data) > 12 {
			_ = decodeAttrs(m.Data[12:], func(ad *netlink.AttributeDecoder) {
				switch ad.Type() {
				case rtaDst:
					dst = append(net.IP(nil), ad.Bytes()...)
				case rtaGateway:
					gw = append(net.IP(nil), ad.Bytes()...)
				case rtaOif:
					oif = int(ad.Uint32())
				}
			})
		}
		if dst == nil {
			dst = net.IPv4zero
			if family == afInet6 {
				dst = net.IPv6zero
			}
		}
		rec := &RouteRecord{Destination: &net.IPNet{IP: dst, Mask: net.CIDRMask(int(dstLen), addrBits(family))}, Gateway: gw, LinkIndex: oif}
		kind := EventNewRoute
		if int(m.Header.Type) == rtmDelRoute {
			kind = EventDelRoute
		}
		return Event{Kind: kind, Route: rec}, true, nil
	default:
		return Event{}, false, nil
	}
}

func groupMask(groups []Group) uint32 {
	var mask uint32
	for _, g := range groups {
		switch g {
		case GroupLink:
			mask |= 1 << 0
		case GroupIPv4IfAddr:
			mask |= 1 << 4
		case GroupIPv4Route:
			mask |= 1 << 6
		case GroupIPv6IfAddr:
			mask |= 1 << 8
		case GroupIPv6Route:
			mask |= 1 << 10
		}
	}
	return mask
}
