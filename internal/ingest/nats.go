package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"kpipolicy/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSResponder answers evaluate requests on a core NATS queue subscription.
// Params: NATS connection, queue subscription, and request handler.
// Returns: responder lifecycle handle.
type NATSResponder struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *slog.Logger
}

// NewNATSResponder connects and queue-subscribes the evaluate subject.
// Params: server URLs, evaluate section, handler, and optional logger.
// Returns: started responder or initialization error.
func NewNATSResponder(urls []string, cfg config.EvaluateConfig, handler *Handler, logger *slog.Logger) (*NATSResponder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(urls, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats evaluate: %w", err)
	}

	responder := &NATSResponder{nc: nc, logger: logger}
	sub, err := nc.QueueSubscribe(cfg.Subject, cfg.QueueGroup, func(message *nats.Msg) {
		if message == nil {
			return
		}
		reply := handler.HandleRequest(context.Background(), message.Data)
		if message.Reply == "" {
			logger.Warn("nats evaluate request without reply subject", "subject", message.Subject)
			return
		}
		if err := message.Respond(reply); err != nil {
			logger.Warn("nats evaluate respond failed", "subject", message.Subject, "error", err.Error())
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.QueueGroup, err)
	}
	if err := nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		nc.Close()
		return nil, fmt.Errorf("flush evaluate subscription: %w", err)
	}
	responder.sub = sub
	return responder, nil
}

// Close drains subscription and closes connection.
// Params: none.
// Returns: close error from subscription drain.
func (r *NATSResponder) Close() error {
	if r == nil || r.nc == nil {
		return nil
	}
	if r.sub != nil {
		if err := r.sub.Drain(); err != nil {
			r.nc.Close()
			return err
		}
	}
	r.nc.Close()
	return nil
}
