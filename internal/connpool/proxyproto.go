package connpool

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// proxyProtocolV2Sign is the fixed signature that opens a PROXY protocol
// v2 header, distinguishing it from the plain-text v1 form.
var proxyProtocolV2Sign = []byte{
	0x0d, 0x0a, 0x0d, 0x0a,
	0x00, 0x0d, 0x0a, 0x51,
	0x55, 0x49, 0x54, 0x0a,
}

// PROXYWhitelist restricts which relayer addresses a Server trusts to
// prefix a connection with a PROXY protocol preamble. A nil or empty
// whitelist trusts every relayer.
type PROXYWhitelist []*net.IPNet

// NewPROXYWhitelist parses cidrsOrIPs (bare IPs are widened to a /32 or
// /128, and an unspecified address such as "0.0.0.0" or "::" to a /0)
// into a PROXYWhitelist. Entries that fail to parse are skipped.
func NewPROXYWhitelist(cidrsOrIPs []string) PROXYWhitelist {
	var nets PROXYWhitelist
	for _, s := range cidrsOrIPs {
		if ip := net.ParseIP(s); ip != nil {
			s = ip.String()
			switch {
			case ip.IsUnspecified():
				s += "/0"
			case ip.To4() != nil:
				s += "/32"
			case ip.To16() != nil:
				s += "/128"
			}
		}
		if _, ipNet, _ := net.ParseCIDR(s); ipNet != nil {
			nets = append(nets, ipNet)
		}
	}
	return nets
}

// Allows reports whether addr may speak the PROXY protocol.
func (w PROXYWhitelist) Allows(addr net.Addr) bool {
	if len(w) == 0 {
		return true
	}
	host, _, _ := net.SplitHostPort(addr.String())
	ip := net.ParseIP(host)
	for _, ipNet := range w {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// prefaceConn lets Connection's normal Read path continue through a
// bufio.Reader that already holds bytes peeked or read while checking for
// a PROXY protocol preamble, mirroring the same carry-the-buffer-forward
// idiom the WebSocket upgrade path uses for its own hijacked connection.
type prefaceConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *prefaceConn) Read(p []byte) (int, error) { return c.br.Read(p) }

// readPROXYHeader parses a PROXY protocol v1 or v2 preamble off the front
// of br, if one is present. A peer that never speaks the protocol at all
// resolves as (nil, nil, nil) — a PROXY-capable accept path must still
// serve ordinary clients that aren't behind a relayer — as does a read
// deadline expiring while only the leading signature bytes have been
// peeked, since that is indistinguishable from "no preamble coming."
func readPROXYHeader(br *bufio.Reader) (src, dst *net.TCPAddr, err error) {
	isV1 := true
	for i := 0; i < len("PROXY "); i++ {
		b, perr := br.Peek(i + 1)
		if perr != nil {
			if isTimeoutErr(perr) {
				return nil, nil, nil
			}
			return nil, nil, perr
		}
		if b[i] != "PROXY "[i] {
			isV1 = false
			break
		}
	}

	if isV1 {
		return readPROXYHeaderV1(br)
	}
	return readPROXYHeaderV2(br)
}

// readPROXYHeaderV1 parses the line-oriented textual PROXY protocol:
// "PROXY <TCP4|TCP6> <src ip> <dst ip> <src port> <dst port>\r\n".
func readPROXYHeaderV1(br *bufio.Reader) (src, dst *net.TCPAddr, err error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, nil, err
	}
	line = strings.TrimRight(line, "\r\n")

	parts := strings.Split(line, " ")
	if len(parts) != 6 {
		return nil, nil, fmt.Errorf("connpool: malformed proxy header line: %s", line)
	}

	switch parts[1] {
	case "TCP4", "TCP6":
	default:
		return nil, nil, fmt.Errorf("connpool: unsupported proxy transport protocol: %s", parts[1])
	}

	srcIP := net.ParseIP(parts[2])
	if srcIP == nil {
		return nil, nil, fmt.Errorf("connpool: invalid proxy source ip: %s", parts[2])
	}
	dstIP := net.ParseIP(parts[3])
	if dstIP == nil {
		return nil, nil, fmt.Errorf("connpool: invalid proxy destination ip: %s", parts[3])
	}
	srcPort, err := strconv.Atoi(parts[4])
	if err != nil {
		return nil, nil, fmt.Errorf("connpool: invalid proxy source port: %s", parts[4])
	}
	dstPort, err := strconv.Atoi(parts[5])
	if err != nil {
		return nil, nil, fmt.Errorf("connpool: invalid proxy destination port: %s", parts[5])
	}

	return &net.TCPAddr{IP: srcIP, Port: srcPort}, &net.TCPAddr{IP: dstIP, Port: dstPort}, nil
}

// readPROXYHeaderV2 parses the binary PROXY protocol v2 framing: a fixed
// signature, a version/command byte, an address-family/transport byte,
// a 16-bit address block length, then that many bytes of packed
// source/destination address and port.
func readPROXYHeaderV2(br *bufio.Reader) (src, dst *net.TCPAddr, err error) {
	for i := 0; i < len(proxyProtocolV2Sign); i++ {
		b, perr := br.Peek(i + 1)
		if perr != nil {
			if isTimeoutErr(perr) {
				return nil, nil, nil
			}
			return nil, nil, perr
		}
		if b[i] != proxyProtocolV2Sign[i] {
			return nil, nil, nil
		}
	}

	if _, err := br.Discard(len(proxyProtocolV2Sign)); err != nil {
		return nil, nil, err
	}

	verCmd, err := br.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if verCmd&0xf0 != 0x20 {
		return nil, nil, errors.New("connpool: unsupported proxy protocol version")
	}
	if verCmd&0x0f != 0x01 { // PROXY command
		return nil, nil, errors.New("connpool: unsupported proxy command")
	}

	famProto, err := br.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	switch famProto & 0xf0 {
	case 0x10, 0x20: // AF_INET, AF_INET6
	default:
		return nil, nil, errors.New("connpool: unsupported proxy address family")
	}
	if famProto&0x0f != 0x01 { // STREAM
		return nil, nil, errors.New("connpool: unsupported proxy transport protocol")
	}

	var addrLen int
	switch famProto {
	case 0x11: // TCP over IPv4
		addrLen = 4
	case 0x21: // TCP over IPv6
		addrLen = 16
	default:
		return nil, nil, errors.New("connpool: unsupported combination of proxy address family and transport protocol")
	}

	var declaredLen uint16
	if err := binary.Read(io.LimitReader(br, 2), binary.BigEndian, &declaredLen); err != nil {
		return nil, nil, fmt.Errorf("connpool: failed to read proxy address length: %v", err)
	}
	if int(declaredLen) != 2*addrLen+4 {
		return nil, nil, fmt.Errorf("connpool: invalid proxy address length: %d", declaredLen)
	}

	srcIP := make(net.IP, addrLen)
	dstIP := make(net.IP, addrLen)
	srcPort := make([]byte, 2)
	dstPort := make([]byte, 2)

	if _, err := io.ReadFull(br, srcIP); err != nil {
		return nil, nil, fmt.Errorf("connpool: failed to read proxy source address: %v", err)
	}
	if _, err := io.ReadFull(br, dstIP); err != nil {
		return nil, nil, fmt.Errorf("connpool: failed to read proxy destination address: %v", err)
	}
	if _, err := io.ReadFull(br, srcPort); err != nil {
		return nil, nil, fmt.Errorf("connpool: failed to read proxy source port: %v", err)
	}
	if _, err := io.ReadFull(br, dstPort); err != nil {
		return nil, nil, fmt.Errorf("connpool: failed to read proxy destination port: %v", err)
	}

	return &net.TCPAddr{IP: srcIP, Port: int(binary.BigEndian.Uint16(srcPort))},
		&net.TCPAddr{IP: dstIP, Port: int(binary.BigEndian.Uint16(dstPort))}, nil
}

func isTimeoutErr(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
