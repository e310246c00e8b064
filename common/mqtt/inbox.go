package mqtt

import (
	"sync"

	"go.uber.org/zap"
)

type inboundMessage struct {
	topic   string
	payload []byte
}

// inbox moves messages off paho's delivery goroutine. push never blocks, so
// paho keeps reading acknowledgements and pings while a handler is busy;
// the handler sees messages in arrival order on its own goroutine.
type inbox struct {
	handler MessageHandler
	logger  *zap.Logger

	mu      sync.Mutex
	pending []inboundMessage

	wake      chan struct{}
	quit      chan struct{}
	closeOnce sync.Once
}

func newInbox(handler MessageHandler, logger *zap.Logger) *inbox {
	in := &inbox{
		handler: handler,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go in.run()
	return in
}

func (in *inbox) push(topic string, payload []byte) {
	in.mu.Lock()
	in.pending = append(in.pending, inboundMessage{topic: topic, payload: payload})
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
}

// backlog messages received but not yet handed to the handler
func (in *inbox) backlog() int {
	if in == nil {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.pending)
}

func (in *inbox) next() (inboundMessage, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.pending) == 0 {
		return inboundMessage{}, false
	}
	msg := in.pending[0]
	in.pending[0] = inboundMessage{}
	in.pending = in.pending[1:]
	return msg, true
}

func (in *inbox) run() {
	for {
		select {
		case <-in.quit:
			return
		case <-in.wake:
		}

		for {
			select {
			case <-in.quit:
				return
			default:
			}
			msg, ok := in.next()
			if !ok {
				break
			}
			if err := in.handler(msg.topic, msg.payload); err != nil {
				in.logger.Warn("Error handling MQTT message",
					zap.String("topic", msg.topic),
					zap.Int("payload_size", len(msg.payload)),
					zap.Error(err),
				)
			}
		}
	}
}

// close stops delivery and drops whatever is still pending. A handler call in
// progress is not waited for.
func (in *inbox) close() {
	if in == nil {
		return
	}
	in.closeOnce.Do(func() {
		close(in.quit)
		in.mu.Lock()
		in.pending = nil
		in.mu.Unlock()
	})
}
