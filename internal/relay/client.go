package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// LossPolicy decides what happens to pending calls when the link drops.
type LossPolicy int

const (
	// Reconnect keeps pending calls. Their waiters get ErrDeferred and the
	// calls are re-sent on the next Attach.
	Reconnect LossPolicy = iota
	// Terminal fails every pending call with ErrLinkLost.
	Terminal
)

func (p LossPolicy) String() string {
	if p == Terminal {
		return "terminal"
	}
	return "reconnect"
}

var (
	ErrDeferred     = errors.New("relay: call deferred until the link is re-established")
	ErrLinkLost     = errors.New("relay: link lost")
	ErrNotConnected = errors.New("relay: not connected")
	errAttached     = errors.New("relay: already attached")
)

const handshakeTimeout = 5 * time.Second

type call struct {
	req     Request
	sent    bool
	waiting bool
	done    chan struct{}
	output  string
	err     error
}

func (pc *call) finish(output string, err error) {
	pc.output, pc.err = output, err
	close(pc.done)
}

// Client is the monitor side of the relay link. One Client serves one ping
// monitor; the link is attached per attempt and the pending-call table
// outlives it.
type Client struct {
	policy LossPolicy
	log    *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	lost    chan struct{}
	pending map[string]*call

	writeMu sync.Mutex
}

func NewClient(policy LossPolicy, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{policy: policy, log: log, pending: make(map[string]*call)}
}

func (c *Client) Policy() LossPolicy { return c.policy }

// Attach performs the websocket handshake over conn and starts reading
// replies. Calls left unsent by an earlier link loss are sent again.
func (c *Client) Attach(ctx context.Context, conn net.Conn, url string) error {
	d := websocket.Dialer{
		NetDialContext:   func(context.Context, string, string) (net.Conn, error) { return conn, nil },
		HandshakeTimeout: handshakeTimeout,
	}
	ws, resp, err := d.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("relay handshake: %w", err)
	}

	c.mu.Lock()
	if c.ws != nil {
		c.mu.Unlock()
		_ = ws.Close()
		return errAttached
	}
	c.ws = ws
	c.lost = make(chan struct{})
	var resend []Request
	for _, pc := range c.pending {
		if !pc.sent {
			pc.sent = true
			resend = append(resend, pc.req)
		}
	}
	c.mu.Unlock()

	go c.readLoop(ws)

	for _, req := range resend {
		if err := c.write(ws, req); err != nil {
			c.lose(ws, err, c.policy)
			return fmt.Errorf("relay resend: %w", err)
		}
	}
	if len(resend) > 0 {
		c.log.Info("relay_calls_resent", zap.Int("count", len(resend)))
	}
	return nil
}

// Call runs binary with args on the agent. A call deferred by an earlier link
// loss with the same command is adopted instead of issuing a new one.
func (c *Client) Call(ctx context.Context, binary string, args []string) (string, error) {
	c.mu.Lock()
	ws, lost := c.ws, c.lost
	if ws == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	pc := c.adoptLocked(binary, args)
	if pc == nil {
		pc = &call{
			req:  Request{ID: uuid.NewString(), Method: MethodCall, Binary: binary, Args: args},
			done: make(chan struct{}),
		}
		c.pending[pc.req.ID] = pc
	}
	pc.waiting = true
	send := !pc.sent
	pc.sent = true
	c.mu.Unlock()

	if send {
		if err := c.write(ws, pc.req); err != nil {
			c.lose(ws, err, c.policy)
		}
	}

	select {
	case <-pc.done:
		return pc.output, pc.err
	case <-lost:
		select {
		case <-pc.done:
			return pc.output, pc.err
		default:
		}
		c.mu.Lock()
		_, still := c.pending[pc.req.ID]
		if still {
			pc.waiting = false
		}
		c.mu.Unlock()
		if !still {
			<-pc.done
			return pc.output, pc.err
		}
		return "", ErrDeferred
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, pc.req.ID)
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

func (c *Client) adoptLocked(binary string, args []string) *call {
	for _, pc := range c.pending {
		if !pc.waiting && pc.req.Binary == binary && slices.Equal(pc.req.Args, args) {
			return pc
		}
	}
	return nil
}

// Disconnect closes the link on purpose. It is not a loss: pending calls stay
// and are re-sent on the next Attach.
func (c *Client) Disconnect() {
	c.mu.Lock()
	ws, lost := c.ws, c.lost
	c.ws, c.lost = nil, nil
	for _, pc := range c.pending {
		pc.sent = false
	}
	c.mu.Unlock()
	if ws == nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = ws.Close()
	close(lost)
}

// ConnectionLost tears down the current link and applies policy to every
// pending call.
func (c *Client) ConnectionLost(reason error, policy LossPolicy) {
	c.lose(nil, reason, policy)
}

// lose handles the loss of link ws, or of whatever link is current when ws is
// nil. A loss reported for a link already replaced is ignored.
func (c *Client) lose(ws *websocket.Conn, reason error, policy LossPolicy) {
	c.mu.Lock()
	if ws != nil && c.ws != ws {
		c.mu.Unlock()
		return
	}
	cur, lost := c.ws, c.lost
	c.ws, c.lost = nil, nil
	var failed []*call
	for id, pc := range c.pending {
		if policy == Terminal {
			delete(c.pending, id)
			failed = append(failed, pc)
			continue
		}
		pc.sent = false
	}
	kept := len(c.pending)
	c.mu.Unlock()

	for _, pc := range failed {
		pc.finish("", fmt.Errorf("%w: %v", ErrLinkLost, reason))
	}
	if lost != nil {
		close(lost)
	}
	if cur != nil {
		_ = cur.Close()
	}
	c.log.Warn("relay_link_lost",
		zap.Stringer("policy", policy),
		zap.Int("failed", len(failed)),
		zap.Int("deferred", kept),
		zap.Error(reason),
	)
}

// Pending reports how many calls are waiting for a reply.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) write(ws *websocket.Conn, req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteJSON(req)
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		var rep Reply
		if err := ws.ReadJSON(&rep); err != nil {
			c.lose(ws, err, c.policy)
			return
		}
		c.mu.Lock()
		pc, ok := c.pending[rep.ID]
		if ok {
			delete(c.pending, rep.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.log.Debug("relay_orphan_reply", zap.String("id", rep.ID))
			continue
		}
		if rep.Error != "" {
			pc.finish(rep.Output, &RemoteError{Msg: rep.Error, Output: rep.Output})
			continue
		}
		pc.finish(rep.Output, nil)
	}
}
