package chat

import (
	"context"
	"fmt"

	"github.com/TobiSchelling/NewsContinent/internal/metrics"
)

// Relay forwards reader questions to an Asker and records the conversation.
type Relay struct {
	asker Asker
	log   Log
}

// NewRelay creates a Relay.
func NewRelay(asker Asker, log Log) *Relay {
	return &Relay{asker: asker, log: log}
}

// Exchange records message, asks about articleText and records the reply.
// Backend failures arrive as reply text; err is only set when the log
// cannot be written or read.
func (r *Relay) Exchange(ctx context.Context, session, articleText, message string) (string, []Message, error) {
	if err := r.log.Append(ctx, session, Message{Sender: SenderUser, Message: message}); err != nil {
		return "", nil, fmt.Errorf("recording question: %w", err)
	}

	reply, err := r.asker.Query(ctx, articleText, message)
	if err != nil {
		metrics.ChatExchanges.WithLabelValues("backend_error").Inc()
		reply = err.Error()
	} else {
		metrics.ChatExchanges.WithLabelValues("ok").Inc()
	}

	if err := r.log.Append(ctx, session, Message{Sender: SenderBot, Message: reply}); err != nil {
		return reply, nil, fmt.Errorf("recording reply: %w", err)
	}

	history, err := r.log.History(ctx, session)
	if err != nil {
		return reply, nil, err
	}
	return reply, history, nil
}

// History returns the session's conversation.
func (r *Relay) History(ctx context.Context, session string) ([]Message, error) {
	return r.log.History(ctx, session)
}
