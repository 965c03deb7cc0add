package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"liveclass/pkg/types"
)

// ErrSessionEnded is the terminal poll result: the server no longer has a
// live room for the session.
var ErrSessionEnded = errors.New("session ended")

// DefaultPollInterval matches the "order of seconds" reconciliation cadence.
const DefaultPollInterval = 5 * time.Second

// Fetcher retrieves the authoritative room snapshot for a session.
type Fetcher interface {
	FetchState(ctx context.Context, sessionID string) (*types.RoomSnapshot, error)
}

// HTTPFetcher fetches snapshots from the server's state endpoint.
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
}

func (f *HTTPFetcher) FetchState(ctx context.Context, sessionID string) (*types.RoomSnapshot, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	url := fmt.Sprintf("%s/api/sessions/%s/state", f.BaseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, ErrSessionEnded
	default:
		return nil, fmt.Errorf("state fetch failed: %s", resp.Status)
	}

	var snap types.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("malformed snapshot: %w", err)
	}
	return &snap, nil
}

// Poller periodically replaces the shadow's server-owned fields with the
// fetched snapshot. With push delivery being at-most-once, this is the
// convergence guarantee: even under total push failure the shadow is correct
// within one poll interval.
type Poller struct {
	fetcher   Fetcher
	shadow    *Shadow
	sessionID string
	interval  time.Duration
}

// NewPoller creates a reconciliation poller. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(fetcher Fetcher, shadow *Shadow, sessionID string, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		fetcher:   fetcher,
		shadow:    shadow,
		sessionID: sessionID,
		interval:  interval,
	}
}

// Run polls until the context is cancelled or the session ends. Transient
// fetch errors are logged and retried on the next tick; only a terminal
// ErrSessionEnded stops the loop, marking the shadow ended.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx); err != nil {
			if errors.Is(err, ErrSessionEnded) {
				p.shadow.MarkEnded()
				return nil
			}
			log.Printf("Reconciliation poll failed: session=%s err=%v", p.sessionID, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	snap, err := p.fetcher.FetchState(ctx, p.sessionID)
	if err != nil {
		return err
	}
	p.shadow.ApplySnapshot(snap)
	return nil
}
