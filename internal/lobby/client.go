// internal/lobby/client.go
package lobby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/netplay/internal/models"
	"github.com/jason-s-yu/netplay/internal/neterr"
	"github.com/sirupsen/logrus"
)

// Announcer publishes and withdraws public room listings.
type Announcer interface {
	Announce(ctx context.Context, d models.RoomDescriptor) error
	Delist(ctx context.Context, id uuid.UUID) error
}

// Client talks to the lobby HTTP API.
type Client struct {
	BaseURL string
	// Token is the account JWT sent as a Bearer credential. Announce and
	// Delist need it; List does not.
	Token string
	HTTP  *http.Client
}

// NewClient returns a Client for the lobby at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// StatusError is a non-2xx lobby response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lobby %s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode lobby response: %w", err)
	}
	return nil
}

// Announce lists or refreshes a room. Failures are AnnounceFailed.
func (c *Client) Announce(ctx context.Context, d models.RoomDescriptor) error {
	if c.Token == "" {
		return neterr.Wrap(neterr.AnnounceFailed, "announce", fmt.Errorf("no account token"))
	}
	if err := c.do(ctx, http.MethodPost, "/lobby", d, nil); err != nil {
		return neterr.Wrap(neterr.AnnounceFailed, "announce", err)
	}
	return nil
}

// Delist removes a room listing.
func (c *Client) Delist(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/lobby/"+id.String(), nil, nil); err != nil {
		return fmt.Errorf("failed to delist room %s: %w", id, err)
	}
	return nil
}

// List fetches every public room.
func (c *Client) List(ctx context.Context) ([]models.RoomDescriptor, error) {
	var rooms []models.RoomDescriptor
	if err := c.do(ctx, http.MethodGet, "/lobby", nil, &rooms); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// KeepAnnounced re-announces describe() every interval until ctx is done, so
// the listing does not expire. Failures are logged and retried on the next
// tick.
func KeepAnnounced(ctx context.Context, a Announcer, interval time.Duration, describe func() models.RoomDescriptor, log logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d := describe()
			actx, cancel := context.WithTimeout(ctx, interval)
			err := a.Announce(actx, d)
			cancel()
			if err != nil && ctx.Err() == nil {
				log.WithError(err).WithField("room", d.ID).Warn("failed to re-announce room")
			}
		}
	}
}
