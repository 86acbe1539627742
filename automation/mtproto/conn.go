// Package mtproto connects account sessions to the chat target over MTProto.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/m3rciful/dialogbot/automation"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "mtproto"

// ErrUnauthorized is returned by Connect when the stored session is no longer valid.
var ErrUnauthorized = errors.New("mtproto: session is not authorized")

// Dialer builds MTProto connections from stored string sessions.
type Dialer struct {
	AppID   int
	AppHash string
	// Target is the chat whose messages are delivered to the subscriber.
	Target string
	// DisconnectTimeout bounds how long Disconnect waits for the client to exit.
	DisconnectTimeout time.Duration
}

// Dial decodes the session and prepares a client. It does not touch the network.
func (d Dialer) Dial(ctx context.Context, creds automation.Credentials) (automation.Conn, error) {
	data, err := session.TelethonSession(creds.Session)
	if err != nil {
		return nil, fmt.Errorf("decode session %d: %w", creds.AccountID, err)
	}
	storage := new(session.StorageMemory)
	if err := (&session.Loader{Storage: storage}).Save(ctx, data); err != nil {
		return nil, fmt.Errorf("load session %d: %w", creds.AccountID, err)
	}

	c := &Conn{
		accountID: creds.AccountID,
		target:    d.Target,
		timeout:   d.DisconnectTimeout,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(c.onNewMessage)
	c.client = telegram.NewClient(d.AppID, d.AppHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  dispatcher,
	})
	return c, nil
}

// Conn is one running MTProto client.
type Conn struct {
	accountID int64
	target    string
	timeout   time.Duration
	client    *telegram.Client

	mu      sync.Mutex
	handler automation.InboundHandler
	sender  *message.Sender
	peer    tg.InputPeerClass
	cancel  context.CancelFunc
	done    chan struct{}

	targetID atomic.Int64
}

// Subscribe sets the receiver of messages from the target.
func (c *Conn) Subscribe(h automation.InboundHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect starts the client and resolves the target. It returns once the
// client is ready or failed to start.
func (c *Conn) Connect(ctx context.Context) error {
	ctx = logger.WithAccount(ctx, c.accountID)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ready := make(chan struct{})
	done := make(chan struct{})
	runErr := make(chan error, 1)

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				return fmt.Errorf("auth status: %w", err)
			}
			if !status.Authorized {
				return ErrUnauthorized
			}
			if err := c.resolveTarget(ctx); err != nil {
				return err
			}
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		runErr <- err
	}()

	start := time.Now()
	select {
	case <-ready:
		logger.Info(ctx, component, "mtproto.connect",
			slog.String("status", "ok"),
			slog.String("target", c.target),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return nil
	case err := <-runErr:
		cancel()
		logger.Error(ctx, component, "mtproto.connect",
			slog.String("status", "fail"),
			slog.String("err", errString(err)),
		)
		if err == nil {
			err = errors.New("mtproto: client exited before ready")
		}
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *Conn) resolveTarget(ctx context.Context) error {
	sender := message.NewSender(c.client.API())
	peer, err := sender.Resolve(c.target).AsInputPeer(ctx)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.target, err)
	}
	if u, ok := peer.(*tg.InputPeerUser); ok {
		c.targetID.Store(u.UserID)
	}
	c.mu.Lock()
	c.sender = sender
	c.peer = peer
	c.mu.Unlock()
	return nil
}

// Disconnect stops the client and waits for it to exit.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(c.timeout):
		return fmt.Errorf("mtproto: client %d did not exit within %s", c.accountID, c.timeout)
	}
}

// SendMessage sends text to target. Flood waits surface as automation.RateLimitError.
func (c *Conn) SendMessage(ctx context.Context, target, text string) error {
	c.mu.Lock()
	sender, peer := c.sender, c.peer
	c.mu.Unlock()
	if sender == nil {
		return errors.New("mtproto: not connected")
	}

	var err error
	if target == c.target && peer != nil {
		_, err = sender.To(peer).Text(ctx, text)
	} else {
		_, err = sender.Resolve(target).Text(ctx, text)
	}
	return mapSendError(err)
}

func mapSendError(err error) error {
	if err == nil {
		return nil
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &automation.RateLimitError{Wait: wait}
	}
	return err
}

func (c *Conn) onNewMessage(_ context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
	msg, ok := inbound(c.targetID.Load(), e, u.Message)
	if !ok {
		return nil
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnMessage(msg)
	}
	return nil
}

// inbound converts an update from the target chat. Outgoing messages and
// messages from other peers are dropped.
func inbound(targetID int64, e tg.Entities, raw tg.MessageClass) (automation.Message, bool) {
	m, ok := raw.(*tg.Message)
	if !ok || m.Out {
		return automation.Message{}, false
	}
	peer, ok := m.PeerID.(*tg.PeerUser)
	if !ok || targetID == 0 || peer.UserID != targetID {
		return automation.Message{}, false
	}
	msg := automation.Message{
		SenderID:   peer.UserID,
		Text:       m.Message,
		Kind:       contentKind(m.Media),
		ReceivedAt: time.Now(),
	}
	if user, ok := e.Users[peer.UserID]; ok && user != nil {
		msg.SenderHandle = user.Username
	}
	return msg, true
}

// contentKind maps MTProto media to the stored content type.
func contentKind(media tg.MessageMediaClass) automation.ContentKind {
	switch m := media.(type) {
	case nil, *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		return automation.KindNone
	case *tg.MessageMediaPhoto:
		return automation.KindPhoto
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return automation.KindMedia
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeSticker:
				return automation.KindSticker
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					return automation.KindVoice
				}
			}
		}
		return automation.KindMedia
	default:
		return automation.KindMedia
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ automation.Dialer = Dialer{}
