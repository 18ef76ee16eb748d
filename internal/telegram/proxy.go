package telegram

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/gotd/td/telegram/dcs"
	"golang.org/x/net/proxy"
)

// proxyResolver returns a DC resolver that dials through the given
// SOCKS5 proxy URL, or nil for a direct connection.
func proxyResolver(raw string) (dcs.Resolver, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse telegram.proxy: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("telegram.proxy: unsupported scheme %q (want socks5)", u.Scheme)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("telegram.proxy: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("telegram.proxy: dialer does not support contexts")
	}
	return dcs.Plain(dcs.PlainOptions{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		},
	}), nil
}
