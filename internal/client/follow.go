package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
	"github.com/joseph-ayodele/research-ingest/internal/feed"
	"github.com/joseph-ayodele/research-ingest/internal/workflow"
)

// Follow keeps a workflow view of projectID in sync with the server's event
// stream, reconnecting when the stream drops. onUpdate runs after every
// change or resync. Follow returns when ctx is done or the server refuses the
// stream.
func (c *Client) Follow(ctx context.Context, projectID uuid.UUID, onUpdate func(*workflow.View, workflow.Update)) error {
	topic := feed.NewDocumentTopic(feed.DefaultBuffer, c.logger)
	defer topic.Close()
	view := workflow.NewView(projectID, topic, c, c.logger)
	defer view.Close()
	if onUpdate != nil {
		view.OnChange(func(u workflow.Update) { onUpdate(view, u) })
	}

	started := false
	handlers := StreamHandlers{
		// the server subscribed before sending ready, so seeding now misses nothing
		Ready: func(ctx context.Context) error {
			if !started {
				if err := view.Start(ctx); err != nil {
					return err
				}
				started = true
				return nil
			}
			return view.Resync(ctx)
		},
		Change: func(ev entity.ChangeEvent) { feed.PublishChange(topic, ev) },
		Resync: view.Resync,
	}

	err := common.WithRetry(ctx, func() error {
		err := c.StreamEvents(ctx, projectID, handlers)
		if ctx.Err() != nil {
			return common.Permanent(ctx.Err())
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return common.Permanent(err)
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		c.logger.Warn("client.events.reconnecting", "project_id", projectID, "error", err)
		return err
	}, common.RetryOptions{MaxAttempts: 20, InitialDelay: time.Second, MaxDelay: 30 * time.Second})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
