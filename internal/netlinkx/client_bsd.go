//go:build freebsd || netbsd || openbsd || dragonfly

package netlinkx

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	"github.com/kuuji/defaultconfd/internal/gwerr"
)

// AF_NETLINK and the nlmsghdr/sockaddr_nl layout are not part of
// golang.org/x/sys/unix on the BSDs: FreeBSD's netlink support reuses
// Linux's wire ABI (sys/socket.h defines AF_NETLINK as 38) so route
// tools built against it stay portable, but the Go toolchain has no
// typed Sockaddr for it. unix.Sockaddr carries an unexported method,
// so a custom sockaddr type cannot satisfy it outside package unix;
// bind/sendto/recvfrom below go through raw syscalls with a
// hand-packed sockaddr_nl instead of the typed wrappers.
const (
	afNetlinkBSD  = 38
	netlinkRouteP = 0
)

func packSockaddrNl(groups uint32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint16(b[0:2], uint16(afNetlinkBSD))
	binary.LittleEndian.PutUint32(b[8:12], groups)
	return b
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

type bsdSocket struct {
	fd  int
	mu  sync.Mutex
	seq uint32
}

func openBsdSocket(groups uint32) (*bsdSocket, error) {
	fd, err := unix.Socket(afNetlinkBSD, unix.SOCK_RAW, netlinkRouteP)
	if err != nil {
		return nil, &gwerr.IOError{Op: "open netlink socket", Err: err}
	}
	sa := packSockaddrNl(groups)
	if _, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa[0])), uintptr(len(sa))); errno != 0 {
		unix.Close(fd)
		return nil, &gwerr.IOError{Op: "bind netlink socket", Err: errno}
	}
	return &bsdSocket{fd: fd}, nil
}

func (s *bsdSocket) close() error { return unix.Close(s.fd) }

func (s *bsdSocket) send(buf []byte) error {
	dst := packSockaddrNl(0)
	_, _, errno := unix.Syscall6(unix.SYS_SENDTO, uintptr(s.fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, uintptr(unsafe.Pointer(&dst[0])), uintptr(len(dst)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (s *bsdSocket) recv(buf []byte) (int, error) {
	from := make([]byte, 12)
	fromLen := uint32(len(from))
	n, _, errno := unix.Syscall6(unix.SYS_RECVFROM, uintptr(s.fd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0, uintptr(unsafe.Pointer(&from[0])), uintptr(unsafe.Pointer(&fromLen)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func wrapMessage(msgType uint16, flags uint16, seq uint32, payload []byte) []byte {
	total := 16 + len(payload)
	b := make([]byte, total)
	binary.LittleEndian.PutUint32(b[0:4], uint32(total))
	binary.LittleEndian.PutUint16(b[4:6], msgType)
	binary.LittleEndian.PutUint16(b[6:8], flags)
	binary.LittleEndian.PutUint32(b[8:12], seq)
	copy(b[16:], payload)
	return b
}

// client is the BSD backend. It speaks the same RTM_*/attribute wire
// shape as the Linux backend (wire.go) over a hand-opened AF_NETLINK
// route socket, since mdlayher/netlink.Conn only dials Linux sockets.
type client struct {
	sock *bsdSocket
	log  *slog.Logger
}

func NewClient(logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sock, err := openBsdSocket(0)
	if err != nil {
		return nil, err
	}
	return &client{sock: sock, log: logger.With("component", "netlinkx")}, nil
}

func (c *client) Close() error { return c.sock.close() }

// execute sends one request and collects reply payloads (post-header
// bytes) addressed to its sequence number, draining a multipart dump
// until NLMSG_DONE or a non-multi reply arrives. A non-zero
// NLMSG_ERROR payload is surfaced as a *gwerr.KernelError; a zero one
// is a plain ack and contributes no payload.
func (c *client) execute(msgType uint16, flags uint16, payload []byte) ([][]byte, error) {
	c.sock.mu.Lock()
	defer c.sock.mu.Unlock()

	c.sock.seq++
	seq := c.sock.seq
	msg := wrapMessage(msgType, flags, seq, payload)
	if err := c.sock.send(msg); err != nil {
		return nil, &gwerr.IOError{Op: "send netlink", Err: err}
	}

	var out [][]byte
	buf := make([]byte, 1<<16)
	for {
		n, err := c.sock.recv(buf)
		if err != nil {
			return nil, &gwerr.IOError{Op: "receive netlink", Err: err}
		}
		data := buf[:n]
		offset := 0
		done := false
		for offset+16 <= len(data) {
			length := binary.LittleEndian.Uint32(data[offset : offset+4])
			mtype := binary.LittleEndian.Uint16(data[offset+4 : offset+6])
			mflags := binary.LittleEndian.Uint16(data[offset+6 : offset+8])
			mseq := binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			if length < 16 || offset+int(length) > len(data) {
				break
			}
			body := data[offset+16 : offset+int(length)]
			if mseq == seq {
				switch int(mtype) {
				case nlmsgDone:
					done = true
				case nlmsgError:
					if len(body) >= 4 {
						errno := int32(binary.LittleEndian.Uint32(body[0:4]))
						if errno != 0 {
							return nil, &gwerr.KernelError{Errno: int(-errno), Message: fmt.Sprintf("netlink error %d", -errno)}
						}
					}
				default:
					cp := append([]byte(nil), body...)
					out = append(out, cp)
				}
			}
			offset += int(align4(length))
			if mflags&nlmFMulti == 0 {
				done = true
			}
		}
		if done {
			break
		}
	}
	return out, nil
}

func (c *client) DumpLinks(ctx context.Context) ([]LinkRecord, error) {
	bodies, err := c.execute(rtmGetLink, nlmFRequest|nlmFDump, encodeIfinfomsg(0, 0, 0))
	if err != nil {
		return nil, err
	}
	out := make([]LinkRecord, 0, len(bodies))
	for _, b := range bodies {
		idx, flags, derr := decodeIfinfomsg(b)
		if derr != nil {
			c.log.Warn("dropping malformed link record", "error", derr)
			continue
		}
		rec := LinkRecord{Index: idx, Up: flags&ifUp != 0}
		if len(b) > 16 {
			_ = decodeAttrs(b[16:], func(ad *netlink.AttributeDecoder) {
				if ad.Type() == iflaIfname {
					rec.Name = ad.String()
				}
			})
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *client) DumpAddrs(ctx context.Context) ([]AddrRecord, error) {
	bodies, err := c.execute(rtmGetAddr, nlmFRequest|nlmFDump, encodeIfaddrmsg(afUnspec, 0, 0))
	if err != nil {
		return nil, err
	}
	out := make([]AddrRecord, 0, len(bodies))
	for _, b := range bodies {
		family, prefixLen, index, derr := decodeIfaddrmsg(b)
		if derr != nil {
			c.log.Warn("dropping malformed address record", "error", derr)
			continue
		}
		var ip net.IP
		if len(b) > 8 {
			_ = decodeAttrs(b[8:], func(ad *netlink.AttributeDecoder) {
				if (ad.Type() == ifaLocal || ad.Type() == ifaAddress) && ip == nil {
					ip = append(net.IP(nil), ad.Bytes()...)
				}
			})
		}
		if ip == nil {
			continue
		}
		out = append(out, AddrRecord{LinkIndex: index, Address: &net.IPNet{IP: ip, Mask: net.CIDRMask(int(prefixLen), addrBits(family))}})
	}
	return out, nil
}

func (c *client) DumpRoutes(ctx context.Context, fib int) ([]RouteRecord, error) {
	attrs, err := encodeAttrs(func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(rtaTable, uint32(fib))
		return nil
	})
	if err != nil {
		return nil, &gwerr.ParseError{Context: "encode route dump attrs", Err: err}
	}
	bodies, err := c.execute(rtmGetRoute, nlmFRequest|nlmFDump, append(encodeRtmsg(afUnspec, 0, uint8(fib), 0), attrs...))
	if err != nil {
		return nil, err
	}
	out := make([]RouteRecord, 0, len(bodies))
	for _, b := range bodies {
		family, dstLen, table, derr := decodeRtmsg(b)
		if derr != nil {
			c.log.Warn("dropping malformed route record", "error", derr)
			continue
		}
		if int(table) != fib && fib != 0 {
			continue
		}
		var dst, gw net.IP
		var oif int
		if len(b) > 12 {
			_ = decodeAttrs(b[12:], func(ad *netlink.AttributeDecoder) {
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
		out = append(out, RouteRecord{
			Destination: &net.IPNet{IP: dst, Mask: net.CIDRMask(int(dstLen), addrBits(family))},
			Gateway:     gw,
			LinkIndex:   oif,
		})
	}
	return out, nil
}

func (c *client) AddRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	return c.mutateRoute(rtmNewRoute, nlmFCreate|nlmFExcl, fib, dst, gw, outLink)
}

func (c *client) DeleteRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	return c.mutateRoute(rtmDelRoute, 0, fib, dst, gw, outLink)
}

func (c *client) mutateRoute(msgType uint16, extraFlags uint16, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	if dst == nil {
		return &gwerr.InvalidArgument{Reason: "destination must not be nil"}
	}
	family, err := familyFromIP(dst.IP)
	if err != nil {
		return &gwerr.InvalidArgument{Reason: err.Error()}
	}
	if gw != nil {
		gwFamily, err := familyFromIP(gw)
		if err != nil {
			return &gwerr.InvalidArgument{Reason: err.Error()}
		}
		if gwFamily != family {
			return &gwerr.InvalidArgument{Reason: "destination and gateway address families differ"}
		}
	}

	ones, _ := dst.Mask.Size()
	attrs, err := encodeAttrs(func(ae *netlink.AttributeEncoder) error {
		ae.Bytes(rtaDst, packedAddr(family, dst.IP))
		ae.Uint32(rtaTable, uint32(fib))
		ae.Uint32(rtaRtflags, rtProtoStatic)
		if gw != nil {
			ae.Bytes(rtaGateway, packedAddr(family, gw))
		}
		if outLink != 0 {
			ae.Uint32(rtaOif, uint32(outLink))
		}
		return nil
	})
	if err != nil {
		return &gwerr.ParseError{Context: "encode route attrs", Err: err}
	}

	_, err = c.execute(msgType, nlmFRequest|nlmFAck|extraFlags, append(encodeRtmsg(family, uint8(ones), uint8(fib), 0), attrs...))
	return err
}

func (c *client) LinkNameToIndex(ctx context.Context, name string) (int, error) {
	attrs, err := encodeAttrs(func(ae *netlink.AttributeEncoder) error {
		ae.String(iflaIfname, name)
		return nil
	})
	if err != nil {
		return 0, &gwerr.ParseError{Context: "encode link name attr", Err: err}
	}
	bodies, err := c.execute(rtmGetLink, nlmFRequest, append(encodeIfinfomsg(0, 0, 0), attrs...))
	if err != nil {
		if _, ok := err.(*gwerr.KernelError); ok {
			return 0, &gwerr.NotFound{What: fmt.Sprintf("link %q", name)}
		}
		return 0, err
	}
	if len(bodies) == 0 {
		return 0, &gwerr.NotFound{What: fmt.Sprintf("link %q", name)}
	}
	idx, _, derr := decodeIfinfomsg(bodies[0])
	if derr != nil {
		return 0, &gwerr.ParseError{Context: "decode link reply", Err: derr}
	}
	return idx, nil
}

// --- event stream ---

type eventStream struct {
	sock   *bsdSocket
	events chan Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func (c *client) Subscribe(ctx context.Context, groups ...Group) (EventStream, error) {
	sock, err := openBsdSocket(groupMask(groups))
	if err != nil {
		return nil, err
	}
	es := &eventStream{
		sock:   sock,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		log:    c.log,
	}
	go es.run()
	return es, nil
}

func (es *eventStream) run() {
	buf := make([]byte, 1<<16)
	for {
		n, err := es.sock.recv(buf)
		if err != nil {
			select {
			case es.errs <- &gwerr.IOError{Op: "receive netlink event", Err: err}:
			default:
			}
			return
		}
		data := buf[:n]
		offset := 0
		for offset+16 <= len(data) {
			length := binary.LittleEndian.Uint32(data[offset : offset+4])
			mtype := binary.LittleEndian.Uint16(data[offset+4 : offset+6])
			if length < 16 || offset+int(length) > len(data) {
				break
			}
			body := data[offset+16 : offset+int(length)]
			m := netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(mtype)}, Data: append([]byte(nil), body...)}
			ev, ok, perr := parseEvent(m)
			if perr != nil {
				es.log.Warn("dropping unparsable event", "error", perr)
			} else if ok {
				select {
				case es.events <- ev:
				case <-es.done:
					return
				}
			}
			offset += int(align4(length))
		}
	}
}

func (es *eventStream) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-es.events:
		return ev, nil
	case err := <-es.errs:
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-time.After(DefaultReadTimeout):
		return Event{}, &gwerr.Timeout{}
	}
}

func (es *eventStream) Close() error {
	es.once.Do(func() { close(es.done) })
	return es.sock.close()
}
