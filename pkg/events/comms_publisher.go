package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/action-gateway/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject overrides the base subject (ACTION_EVENT_SUBJECT).
	Subject string
	// Service is stamped on events that do not carry one.
	Service string
}

// CommsPublisher publishes dispatch events to NATS.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
	service string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, subject: commsutil.SubjectActionDispatched}
	if opts != nil {
		if opts.Subject != "" {
			p.subject = opts.Subject
		}
		p.service = opts.Service
	}
	return p
}

// PublishDispatched publishes event to the per-action subject and then to
// the base subject. Message ids are scoped per subject so a stream capturing
// both does not drop the second copy as a duplicate.
func (p *CommsPublisher) PublishDispatched(_ context.Context, event *ActionDispatchedEvent) error {
	if event.Service == "" {
		event.Service = p.service
	}

	subjects := []string{commsutil.BuildDispatchSubject(p.subject, event.Action), p.subject}
	for _, subject := range subjects {
		msgID := ""
		if event.ID != "" {
			msgID = subject + ":" + event.ID
		}
		msg, err := commsutil.NewMessage(subject, msgID, event)
		if err != nil {
			return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
		}
		if err := p.nc.PublishMsg(msg); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return fmt.Errorf("%s - publish %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published %s outcome for %s", commsPublisherLogPrefix, event.Outcome, event.Action))
	return nil
}
