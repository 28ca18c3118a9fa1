package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRelays are used when no relays are configured.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

var ErrNoRelayAccepted = errors.New("nostr: no relay accepted the event")

// PublishResult reports which relays acknowledged an event.
type PublishResult struct {
	EventID string
	Relays  []string
}

// Pool publishes events to a fixed set of relays. Each publish opens a fresh
// connection per relay; witness traffic is a few events per minute.
type Pool struct {
	relays  []string
	dialer  *websocket.Dialer
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewPool returns a pool that waits up to timeout for each relay's OK.
func NewPool(relays []string, timeout time.Duration, logger *zap.Logger) *Pool {
	if len(relays) == 0 {
		relays = DefaultRelays
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pool{
		relays:  append([]string(nil), relays...),
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Relays returns the configured relay URLs.
func (p *Pool) Relays() []string { return append([]string(nil), p.relays...) }

// Broadcast signs a kind-1 note with keys and publishes it.
func (p *Pool) Broadcast(ctx context.Context, content string, tags [][]string, keys *Keys) (PublishResult, error) {
	ev := NewTextNote(content, tags, p.now())
	if err := ev.Sign(keys); err != nil {
		return PublishResult{}, err
	}
	return p.Publish(ctx, ev)
}

// Publish sends ev to every relay concurrently. It succeeds when at least one
// relay accepts the event; the accepted relays are listed in configured order.
func (p *Pool) Publish(ctx context.Context, ev *Event) (PublishResult, error) {
	accepted := make([]bool, len(p.relays))
	errs := make([]error, len(p.relays))

	var g errgroup.Group
	for i, url := range p.relays {
		g.Go(func() error {
			if err := p.publishOne(ctx, url, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", url, err)
				p.logger.Debug("relay rejected event",
					zap.String("relay", url),
					zap.String("event_id", ev.ID),
					zap.Error(err),
				)
				return nil
			}
			accepted[i] = true
			return nil
		})
	}
	_ = g.Wait()

	res := PublishResult{EventID: ev.ID}
	for i, ok := range accepted {
		if ok {
			res.Relays = append(res.Relays, p.relays[i])
		}
	}
	if len(res.Relays) == 0 {
		return res, fmt.Errorf("%w: %w", ErrNoRelayAccepted, errors.Join(errs...))
	}
	return res, nil
}

func (p *Pool) publishOne(ctx context.Context, url string, ev *Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the context ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON([]any{"EVENT", ev}); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		ok, reason, matched := parseOK(msg, ev.ID)
		if !matched {
			continue
		}
		if !ok {
			return fmt.Errorf("rejected: %s", reason)
		}
		return nil
	}
}

// parseOK decodes a relay ["OK", <id>, <bool>, <message>] frame for id.
// Other frames (NOTICE, AUTH, ...) are reported as unmatched.
func parseOK(msg []byte, id string) (accepted bool, reason string, matched bool) {
	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 3 {
		return false, "", false
	}
	var label, gotID string
	if json.Unmarshal(frame[0], &label) != nil || label != "OK" {
		return false, "", false
	}
	if json.Unmarshal(frame[1], &gotID) != nil || gotID != id {
		return false, "", false
	}
	if json.Unmarshal(frame[2], &accepted) != nil {
		return false, "malformed OK frame", true
	}
	if len(frame) > 3 {
		_ = json.Unmarshal(frame[3], &reason)
	}
	return accepted, reason, true
}
