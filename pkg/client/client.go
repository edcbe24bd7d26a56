// Package client is a Go client for the bridge's stream transports.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/editor-bridge/pkg/framing"
	"github.com/morezero/editor-bridge/pkg/protocol"
)

const logPrefix = "client:client"

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("client: connection closed")

// Options configures Dial.
type Options struct {
	// Mode is framing.ModeLine (default) or framing.ModeLength.
	Mode          string
	Codec         protocol.Codec
	MaxFrameBytes int
	DialTimeout   time.Duration
}

// Client multiplexes calls over one connection, correlating responses by id.
type Client struct {
	conn   net.Conn
	framer framing.Framer
	codec  protocol.Codec

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	err     error
	done    chan struct{}
}

// Dial connects to a bridge listening on addr.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Codec == nil {
		opts.Codec = protocol.JSON
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	framer, err := framing.New(opts.Mode, opts.MaxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}

	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to %s: %w", logPrefix, addr, err)
	}

	c := &Client{
		conn:    conn,
		framer:  framer,
		codec:   opts.Codec,
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends command and waits for its response. Error responses are
// returned as a *protocol.Error.
func (c *Client) Call(ctx context.Context, command string, params protocol.Params) (interface{}, error) {
	resp, err := c.Do(ctx, &protocol.Request{Command: command, Params: params})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Do sends req and returns the raw response. An empty id is assigned.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.ID == "" {
		req.ID = strconv.FormatUint(c.nextID.Add(1), 10)
	}
	ch := make(chan *protocol.Response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s - request id %q already in flight", logPrefix, req.ID)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	body, err := c.codec.EncodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}
	c.writeMu.Lock()
	err = c.framer.WriteFrame(c.conn, body)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to send %s: %w", logPrefix, req.Command, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, c.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	r := bufio.NewReader(c.conn)
	for {
		frame, err := c.framer.ReadFrame(r)
		if err != nil {
			c.fail(err)
			return
		}
		resp, err := c.codec.DecodeResponse(frame)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - dropping undecodable response: %v", logPrefix, err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		c.mu.Unlock()
		if !ok {
			slog.Debug(fmt.Sprintf("%s - no caller waiting for response id=%s", logPrefix, resp.ID))
			continue
		}
		select {
		case ch <- resp:
		default:
			slog.Warn(fmt.Sprintf("%s - duplicate response id=%s", logPrefix, resp.ID))
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		c.err = ErrClosed
	} else {
		c.err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	close(c.done)
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. Waiting calls return ErrClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(net.ErrClosed)
	<-c.done
	return err
}
