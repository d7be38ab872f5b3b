//go:build linux

package netlinkx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mdlayher/netlink"

	"github.com/kuuji/defaultconfd/internal/gwerr"
)

const netlinkRoute = 0 // unix.NETLINK_ROUTE

// client is the Linux backend, talking real rtnetlink over
// mdlayher/netlink.Conn.
type client struct {
	conn *netlink.Conn
	log  *slog.Logger
}

// NewClient dials a command socket bound to no multicast groups. Use
// Subscribe for a separate event-stream socket.
func NewClient(logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := netlink.Dial(netlinkRoute, nil)
	if err != nil {
		return nil, &gwerr.IOError{Op: "dial netlink", Err: err}
	}
	return &client{conn: conn, log: logger.With("component", "netlinkx")}, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) DumpLinks(ctx context.Context) ([]LinkRecord, error) {
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetLink),
			Flags: netlink.HeaderFlagsRequest | netlink.HeaderFlagsDump,
		},
		Data: encodeIfinfomsg(0, 0, 0),
	}
	msgs, err := c.conn.Execute(req)
	if err != nil {
		return nil, translateErr("dump links", err)
	}
	out := make([]LinkRecord, 0, len(msgs))
	for _, m := range msgs {
		idx, flags, derr := decodeIfinfomsg(m.Data)
		if derr != nil {
			c.log.Warn("dropping malformed link record", "error", derr)
			continue
		}
		rec := LinkRecord{Index: idx, Up: flags&ifUp != 0}
		if len(m.Data) > 16 {
			_ = decodeAttrs(m.Data[16:], func(ad *netlink.AttributeDecoder) {
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
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetAddr),
			Flags: netlink.HeaderFlagsRequest | netlink.HeaderFlagsDump,
		},
		Data: encodeIfaddrmsg(afUnspec, 0, 0),
	}
	msgs, err := c.conn.Execute(req)
	if err != nil {
		return nil, translateErr("dump addrs", err)
	}
	out := make([]AddrRecord, 0, len(msgs))
	for _, m := range msgs {
		family, prefixLen, index, derr := decodeIfaddrmsg(m.Data)
		if derr != nil {
			c.log.Warn("dropping malformed address record", "error", derr)
			continue
		}
		var ip net.IP
		if len(m.Data) > 8 {
			_ = decodeAttrs(m.Data[8:], func(ad *netlink.AttributeDecoder) {
				switch ad.Type() {
				case ifaLocal, ifaAddress:
					if ip == nil {
						ip = append(net.IP(nil), ad.Bytes()...)
					}
				}
			})
		}
		if ip == nil {
			continue
		}
		mask := net.CIDRMask(int(prefixLen), addrBits(family))
		out = append(out, AddrRecord{LinkIndex: index, Address: &net.IPNet{IP: ip, Mask: mask}})
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
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetRoute),
			Flags: netlink.HeaderFlagsRequest | netlink.HeaderFlagsDump,
		},
		Data: append(encodeRtmsg(afUnspec, 0, uint8(fib), 0), attrs...),
	}
	msgs, err := c.conn.Execute(req)
	if err != nil {
		return nil, translateErr("dump routes", err)
	}
	out := make([]RouteRecord, 0, len(msgs))
	for _, m := range msgs {
		family, dstLen, table, derr := decodeRtmsg(m.Data)
		if derr != nil {
			c.log.Warn("dropping malformed route record", "error", derr)
			continue
		}
		if int(table) != fib && fib != 0 {
			continue
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
		rec := RouteRecord{
			Destination: &net.IPNet{IP: dst, Mask: net.CIDRMask(int(dstLen), addrBits(family))},
			Gateway:     gw,
			LinkIndex:   oif,
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *client) AddRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	return c.mutateRoute(ctx, rtmNewRoute, nlmFCreate|nlmFExcl, fib, dst, gw, outLink)
}

func (c *client) DeleteRoute(ctx context.Context, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
	return c.mutateRoute(ctx, rtmDelRoute, 0, fib, dst, gw, outLink)
}

func (c *client) mutateRoute(ctx context.Context, msgType uint16, extraFlags uint16, fib int, dst *net.IPNet, gw net.IP, outLink int) error {
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

	req := netlink.Message{
		Header: netlink.Header{
			Type:     netlink.HeaderType(msgType),
			Flags:    netlink.HeaderFlagsRequest | netlink.HeaderFlagsAcknowledge | netlink.HeaderFlags(extraFlags),
			Sequence: uuidSeq(),
		},
		Data: append(encodeRtmsg(family, uint8(ones), uint8(fib), 0), attrs...),
	}
	_, err = c.conn.Execute(req)
	if err != nil {
		return translateErr("mutate route", err)
	}
	return nil
}

func (c *client) LinkNameToIndex(ctx context.Context, name string) (int, error) {
	attrs, err := encodeAttrs(func(ae *netlink.AttributeEncoder) error {
		ae.String(iflaIfname, name)
		return nil
	})
	if err != nil {
		return 0, &gwerr.ParseError{Context: "encode link name attr", Err: err}
	}
	req := netlink.Message{
		Header: netlink.Header{
			Type:  netlink.HeaderType(rtmGetLink),
			Flags: netlink.HeaderFlagsRequest,
		},
		Data: append(encodeIfinfomsg(0, 0, 0), attrs...),
	}
	msgs, err := c.conn.Execute(req)
	if err != nil {
		if isErrno(err, syscall.ENODEV) || isErrno(err, syscall.ENOENT) {
			return 0, &gwerr.NotFound{What: fmt.Sprintf("link %q", name)}
		}
		return 0, translateErr("link name to index", err)
	}
	if len(msgs) == 0 {
		return 0, &gwerr.NotFound{What: fmt.Sprintf("link %q", name)}
	}
	idx, _, derr := decodeIfinfomsg(msgs[0].Data)
	if derr != nil {
		return 0, &gwerr.ParseError{Context: "decode link reply", Err: derr}
	}
	return idx, nil
}

// --- event stream ---

type eventStream struct {
	conn   *netlink.Conn
	events chan Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func (c *client) Subscribe(ctx context.Context, groups ...Group) (EventStream, error) {
	conn, err := netlink.Dial(netlinkRoute, &netlink.Config{Groups: groupMask(groups)})
	if err != nil {
		return nil, &gwerr.IOError{Op: "dial netlink event socket", Err: err}
	}
	es := &eventStream{
		conn:   conn,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		log:    c.log,
	}
	go es.run()
	return es, nil
}

func (es *eventStream) run() {
	for {
		msgs, err := es.conn.Receive()
		if err != nil {
			select {
			case es.errs <- &gwerr.IOError{Op: "receive netlink event", Err: err}:
			default:
			}
			return
		}
		for _, m := range msgs {
			ev, ok, perr := parseEvent(m)
			if perr != nil {
				es.log.Warn("dropping unparsable event", "error", perr)
				continue
			}
			if !ok {
				continue
			}
			select {
			case es.events <- ev:
			case <-es.done:
				return
			}
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
	return es.conn.Close()
}

func translateErr(op string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &gwerr.KernelError{Errno: int(errno), Message: err.Error()}
	}
	return &gwerr.IOError{Op: op, Err: err}
}

func isErrno(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == target
}

func uuidSeq() uint32 {
	id := uuid.New()
	return uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
}
