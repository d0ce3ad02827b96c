package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/txthinking/socks5"
)

// SOCKS5ProxyDialer reaches targets through an upstream SOCKS5 server.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	username  string
	password  string
	direct    Dialer
}

// NewSOCKS5ProxyDialer constructs a SOCKS5 dialer for proxyAddr. Username and
// password authentication is offered when username is non-empty.
func NewSOCKS5ProxyDialer(cfg Config, proxyAddr, username, password string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{
		cfg:       cfg,
		proxyAddr: proxyAddr,
		username:  username,
		password:  password,
		direct:    NewDirectDialer(cfg),
	}
}

// DialContext connects to the SOCKS5 server and asks it to CONNECT to
// address. Hostnames are passed through unresolved.
func (d *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := d.direct.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}

	if err := d.handshake(ctx, c, address); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}
	return c, nil
}

// handshake authenticates and sends CONNECT, bounded by NegotiationTimeout
// and ctx. The deadline is cleared on success.
func (d *SOCKS5ProxyDialer) handshake(ctx context.Context, c net.Conn, address string) error {
	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := d.negotiate(c); err != nil {
		return err
	}
	if err := d.connect(c, address); err != nil {
		return err
	}

	if !stop() {
		return ctx.Err()
	}
	_ = c.SetDeadline(time.Time{})
	return nil
}

func (d *SOCKS5ProxyDialer) negotiate(c net.Conn) error {
	methods := []byte{socks5.MethodNone}
	if d.username != "" {
		methods = append(methods, socks5.MethodUsernamePassword)
	}

	if _, err := socks5.NewNegotiationRequest(methods).WriteTo(c); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := socks5.NewNegotiationReplyFrom(c)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case socks5.MethodNone:
		return nil
	case socks5.MethodUsernamePassword:
		if d.username == "" {
			return errors.New("server requires username/password")
		}
		if _, err := socks5.NewUserPassNegotiationRequest([]byte(d.username), []byte(d.password)).WriteTo(c); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := socks5.NewUserPassNegotiationReplyFrom(c)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != socks5.UserPassStatusSuccess {
			return errors.New("auth failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported negotiation method: %d", neg.Method)
	}
}

func (d *SOCKS5ProxyDialer) connect(c net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := socks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if atyp == socks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := socks5.NewRequest(socks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(c); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := socks5.NewReplyFrom(c)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != socks5.RepSuccess {
		return fmt.Errorf("CONNECT refused: reply code %d", rep.Rep)
	}
	return nil
}
