package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/internal/api"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// StreamHandlers receives the project's event stream. Nil handlers are skipped.
type StreamHandlers struct {
	Ready  func(ctx context.Context) error
	Change func(ev entity.ChangeEvent)
	Resync func(ctx context.Context) error
}

// StreamEvents follows /v1/projects/{id}/events until ctx is done, the
// server closes the stream or a handler returns an error.
func (c *Client) StreamEvents(ctx context.Context, projectID uuid.UUID, h StreamHandlers) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/projects/"+projectID.String()+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.NewAppError(common.KindTransport, "open event stream", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return decodeAPIError(resp.StatusCode, raw)
	}
	c.logger.Info("client.events.connected", "project_id", projectID)

	err = readSSE(resp.Body, func(event, data string) error {
		switch event {
		case api.EventReady:
			if h.Ready != nil {
				return h.Ready(ctx)
			}
		case api.EventChange:
			var ev api.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Warn("client.events.bad_payload", "error", err)
				return nil
			}
			if h.Change != nil {
				doc := ev.Document.ToEntity()
				h.Change(entity.ChangeEvent{Op: entity.ChangeOp(ev.Op), ProjectID: doc.ProjectID, Document: *doc})
			}
		case api.EventResync:
			c.logger.Warn("client.events.resync", "project_id", projectID, "data", data)
			if h.Resync != nil {
				return h.Resync(ctx)
			}
		}
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readSSE parses a text/event-stream body and calls fn once per dispatched event.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 8<<20)

	var event string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				if err := fn(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return sc.Err()
}
