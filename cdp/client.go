package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/grafana/pausesim/cdp/domains"
	"github.com/grafana/pausesim/log"
)

var _ cdp.Executor = &Client{}

// ErrDisconnected is returned for commands issued after the connection to
// the browser has been lost or closed.
var ErrDisconnected = errors.New("CDP connection closed")

// Client manages CDP communication with the browser.
type Client struct {
	ctx    context.Context
	logger *log.Logger

	Browser domains.Browser
	Input   domains.Input
	Page    domains.Page
	Runtime domains.Runtime
	Target  domains.Target

	conn      *connection
	msgID     int64
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message

	done     chan struct{}
	doneOnce sync.Once
	errMu    sync.RWMutex
	err      error
	wsURL    string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(ctx context.Context, logger *log.Logger) *Client {
	c := &Client{
		ctx:     ctx,
		logger:  logger,
		msgSubs: make(map[int64]chan *cdproto.Message),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.Input = domains.NewInput(c)
	c.Page = domains.NewPage(c)
	c.Runtime = domains.NewRuntime(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(c.ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	go c.recvLoop()

	return nil
}

// Disconnect from the browser's CDP API. Pending commands fail with
// ErrDisconnected.
func (c *Client) Disconnect() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debugf("cdp:Disconnect", "wsURL:%q err:%v", c.wsURL, err)
	}
	c.shutdown(ErrDisconnected)
}

// Done returns a channel that's closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection is gone, or nil while it's alive.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive. Commands are routed to the session attached to ctx with
// WithSessionID, or to the browser target otherwise.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", ErrDisconnected)
	}
	if err := c.Err(); err != nil {
		return err
	}

	id := atomic.AddInt64(&c.msgID, 1)
	c.logger.Debugf("cdp:Execute", "wsURL:%q id:%d method:%q", c.wsURL, id, method)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
	}
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}
	if sid := GetSessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	// Subscribe before sending so a fast reply isn't missed.
	recvCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[id] = recvCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, id)
		c.msgSubsMu.Unlock()
	}()

	if err := c.conn.writeMessage(msg); err != nil {
		return err
	}

	select {
	case reply := <-recvCh:
		switch {
		case reply.Error != nil:
			return fmt.Errorf("%s: %w", method, reply.Error)
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Client) recvLoop() {
	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			if !isClosedError(err) {
				c.logger.Errorf("cdp:recvLoop", "wsURL:%q err:%v", c.wsURL, err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}

		switch {
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("cdp:recvLoop", "no subscriber for reply id:%d", msg.ID)
				continue
			}
			ch <- msg
		case msg.Method != "":
			// Events aren't subscribed to; commands are request/response only.
			c.logger.Tracef("cdp:recvLoop", "sid:%v event:%q", msg.SessionID, msg.Method)
		default:
			c.logger.Errorf("cdp:recvLoop", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) shutdown(err error) {
	c.doneOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)
	})
}
