package session

import (
	"context"
	"net"

	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/util"
)

// Telnet protocol bytes (RFC 854/857/858).
const (
	tnSE   = 240
	tnSB   = 250
	tnWILL = 251
	tnWONT = 252
	tnDO   = 253
	tnDONT = 254
	tnIAC  = 255

	optEcho = 1
	optSGA  = 3
)

const (
	tnData = iota
	tnCommand
	tnOption
	tnSub
	tnSubIAC
)

// telnetConn strips option negotiation from the byte stream and answers it
// minimally: the server may echo and suppress go-ahead, everything else is
// refused.
type telnetConn struct {
	net.Conn
	state int
	verb  byte
	raw   []byte
}

func (c *telnetConn) Read(p []byte) (int, error) {
	for {
		if cap(c.raw) < len(p) {
			c.raw = make([]byte, len(p))
		}
		raw := c.raw[:len(p)]
		n, err := c.Conn.Read(raw)
		out := c.filter(raw[:n], p[:0])
		if len(out) > 0 || err != nil {
			return len(out), err
		}
	}
}

func (c *telnetConn) filter(in, out []byte) []byte {
	var reply []byte
	for _, b := range in {
		switch c.state {
		case tnData:
			if b == tnIAC {
				c.state = tnCommand
			} else if b != 0 {
				out = append(out, b)
			}
		case tnCommand:
			switch b {
			case tnIAC:
				out = append(out, b)
				c.state = tnData
			case tnDO, tnDONT, tnWILL, tnWONT:
				c.verb = b
				c.state = tnOption
			case tnSB:
				c.state = tnSub
			default:
				c.state = tnData
			}
		case tnOption:
			reply = append(reply, negotiate(c.verb, b)...)
			c.state = tnData
		case tnSub:
			if b == tnIAC {
				c.state = tnSubIAC
			}
		case tnSubIAC:
			if b == tnSE {
				c.state = tnData
			} else {
				c.state = tnSub
			}
		}
	}
	if len(reply) > 0 {
		c.Conn.Write(reply)
	}
	return out
}

func negotiate(verb, opt byte) []byte {
	switch verb {
	case tnDO:
		return []byte{tnIAC, tnWONT, opt}
	case tnWILL:
		if opt == optEcho || opt == optSGA {
			return []byte{tnIAC, tnDO, opt}
		}
		return []byte{tnIAC, tnDONT, opt}
	}
	return nil
}

func dialTelnet(ctx context.Context, t device.Target, p *dialect.Profile) (*stream, error) {
	addr, err := t.DialAddr()
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: t.OpTimeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, util.NewTransportError("connect", t.Key(), err)
	}
	tc := &telnetConn{Conn: conn}
	s := newStream(t.Key(), p, tc, conn, conn.Close)
	s.eol = "\r\n"
	return s, nil
}
