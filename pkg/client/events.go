package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// maxEventSize bounds one SSE line; log chunks larger than this end the stream.
const maxEventSize = 1 << 20

// StreamEvents follows the manager event stream and calls fn for every event
// until ctx is cancelled or the server closes the stream. An empty service
// receives events for all services.
func (c *Client) StreamEvents(ctx context.Context, service string, fn func(Event)) error {
	path := "/events"
	if service != "" {
		path += "?service=" + url.QueryEscape(service)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), maxEventSize)
	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name != "" && data.Len() > 0 {
				ev := Event{Name: name}
				if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
					c.logger.Debug("skipping malformed event", "event", name, "error", err)
				} else {
					fn(ev)
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sc.Err()
}
