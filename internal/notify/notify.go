// Package notify raises desktop notifications for queue and connectivity
// events that need a person's attention.
package notify

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Carelink/internal/queue"
)

// SendFunc delivers one notification.
type SendFunc func(title, message string) error

// Desktop sends through the platform notifier.
func Desktop(title, message string) error {
	return beeep.Notify(title, message, "")
}

type message struct {
	title string
	body  string
}

// Notifier buffers notifications and sends them from Run so event sources
// never wait on the desktop.
type Notifier struct {
	send   SendFunc
	logger *zap.Logger
	out    chan message
}

// Option configures a Notifier.
type Option func(*Notifier)

func WithSender(fn SendFunc) Option {
	return func(n *Notifier) { n.send = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithBuffer sets how many notifications can wait before new ones are dropped.
func WithBuffer(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.out = make(chan message, size)
		}
	}
}

func New(opts ...Option) *Notifier {
	n := &Notifier{
		send:   Desktop,
		logger: zap.NewNop(),
		out:    make(chan message, 32),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// QueueEvent handles a queue event. Only dead letters produce a notification.
func (n *Notifier) QueueEvent(ev queue.Event) {
	if ev.Type != queue.EventDeadLettered {
		return
	}
	body := fmt.Sprintf("Request %d (%s) gave up after repeated failures", ev.ID, ev.FunctionName)
	if ev.Error != "" {
		body += ": " + ev.Error
	}
	n.push("Carelink request failed", body)
}

// Connectivity handles an online/offline transition.
func (n *Notifier) Connectivity(online bool) {
	if online {
		n.push("Carelink back online", "Queued requests are being sent.")
		return
	}
	n.push("Carelink offline", "Requests will be queued until the connection returns.")
}

func (n *Notifier) push(title, body string) {
	select {
	case n.out <- message{title: title, body: body}:
	default:
		n.logger.Warn("notification dropped", zap.String("title", title))
	}
}

// Run sends buffered notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.out:
			if err := n.send(m.title, m.body); err != nil {
				n.logger.Warn("sending notification", zap.String("title", m.title), zap.Error(err))
			}
		}
	}
}
