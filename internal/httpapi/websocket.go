package httpapi

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nhle/inboxdigest/internal/bus"
)

const wsWriteTimeout = 5 * time.Second

// Subscriber is the UI side of the bus. *ui.Hub implements it.
type Subscriber interface {
	Subscribe(buffer int) (<-chan bus.CoordinatorToUI, func(), error)
	Send(ctx context.Context, msg bus.UIToCoordinator) error
}

// Bridge carries bus envelopes over a websocket. Pushes from the
// coordinator go out as envelopes; inbound frames must be valid UI to
// coordinator envelopes.
type Bridge struct {
	hub       Subscriber
	validator *bus.Validator
	origins   []string
}

// NewBridge creates a Bridge. origins lists extra host patterns allowed to
// open the socket besides same-origin.
func NewBridge(hub Subscriber, v *bus.Validator, origins ...string) *Bridge {
	return &Bridge{hub: hub, validator: v, origins: origins}
}

// GET /ws
func (b *Bridge) Serve(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: b.origins,
	})
	if err != nil {
		log.Printf("[http] websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	pushes, unsubscribe, err := b.hub.Subscribe(0)
	if err != nil {
		log.Printf("[http] websocket subscribe: %v", err)
		conn.Close(websocket.StatusInternalError, "bus unavailable")
		return
	}
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	go func() {
		defer cancel()
		b.readLoop(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case m, ok := <-pushes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "bus closed")
				return
			}
			if err := b.write(ctx, conn, m); err != nil {
				log.Printf("[http] websocket write: %v", err)
				return
			}
		}
	}
}

func (b *Bridge) write(ctx context.Context, conn *websocket.Conn, m bus.CoordinatorToUI) error {
	env, err := bus.CoordinatorUI.Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, env)
}

// readLoop forwards inbound envelopes until the peer goes away. A bad
// frame gets an error notice on this socket only.
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Printf("[http] websocket read: %v", err)
			}
			return
		}

		msg, err := b.decode(raw)
		if err != nil {
			log.Printf("[http] websocket dropped frame: %v", err)
			notice := bus.CoordinatorToUI(bus.NoticeMsg{Level: "error", Text: err.Error()})
			if err := b.write(ctx, conn, notice); err != nil {
				return
			}
			continue
		}
		if err := b.hub.Send(ctx, msg); err != nil {
			log.Printf("[http] forwarding %s: %v", msg.MessageType(), err)
		}
	}
}

func (b *Bridge) decode(raw []byte) (bus.UIToCoordinator, error) {
	env, err := b.validator.Decode(raw)
	if err != nil {
		return nil, err
	}
	return bus.UICoordinator.Decode(env)
}
