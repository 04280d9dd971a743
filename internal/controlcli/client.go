package controlcli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/friday-assistant/friday/protocol"
)

// Client sends invocations to a fridayd control socket. Every invocation
// uses its own connection.
type Client struct {
	Network string
	Address string
	Timeout time.Duration
}

// NewClient creates a client for the selected target of cfg.
func NewClient(cfg *CTLConfig, target, addr string) (*Client, error) {
	network, address, err := cfg.Endpoint(target, addr)
	if err != nil {
		return nil, err
	}
	return &Client{Network: network, Address: address, Timeout: cfg.Timeout}, nil
}

// Invoke sends one invocation and returns its Response. A failed Response
// is not an error here; callers inspect resp.Err.
func (c *Client) Invoke(ctx context.Context, name string, args any) (protocol.Response, error) {
	inv, err := protocol.NewInvocation(uuid.NewString(), name, args)
	if err != nil {
		return protocol.Response{}, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.Network, c.Address)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("failed to connect to fridayd at %s: %w", c.Address, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := protocol.NewWriter(conn).WriteInvocation(inv); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send invocation: %w", err)
	}

	resp, err := protocol.NewReader(conn, 0).ReadResponse()
	if err != nil {
		if ctx.Err() != nil {
			return protocol.Response{}, ctx.Err()
		}
		return protocol.Response{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.ID != inv.ID {
		return protocol.Response{}, fmt.Errorf("response id %q does not match invocation %q", resp.ID, inv.ID)
	}
	return resp, nil
}

// Call invokes name and decodes a successful result into out. A failed
// Response is returned as its *protocol.Error.
func (c *Client) Call(ctx context.Context, name string, args, out any) error {
	resp, err := c.Invoke(ctx, name, args)
	if err != nil {
		return err
	}
	if resp.Err != nil {
		return resp.Err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}
