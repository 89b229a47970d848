// Package profile reconciles local user balances with a remote profile
// store. Fetches are time-boxed; on timeout the last known local snapshot
// stands.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"earnhub/pkg/config"
	"earnhub/pkg/logger"
	"earnhub/pkg/store"
)

// Snapshot is the remote store's view of one user.
type Snapshot struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
	Name    string `json:"name,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// Client fetches profile snapshots from the remote store.
type Client struct {
	endpoint string
	timeout  time.Duration
	hc       *http.Client
}

// NewClient builds a client for the configured endpoint. A nil client is
// returned when no endpoint is configured; callers treat that as "remote
// sync disabled".
func NewClient(cfg config.ProfileConfig) *Client {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultFetchTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		timeout:  timeout,
		hc:       &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the remote snapshot for one user. The call is bounded by
// the configured timeout regardless of the parent context.
func (c *Client) Fetch(ctx context.Context, userID string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+userID, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("profile fetch %s: status %d", userID, resp.StatusCode)
	}
	var s Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Reconcile overwrites the local balance with the remote snapshot. The
// remote store is the source of truth for settled balances.
func (c *Client) Reconcile(ctx context.Context, userID string) error {
	snap, err := c.Fetch(ctx, userID)
	if err != nil {
		return err
	}
	// hold the user lock across read and write so the overwrite cannot
	// clobber a concurrent debit
	defer store.LockUser(userID)()
	u, err := store.GetUser(userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.Balance == snap.Balance {
		return nil
	}
	logger.Info("balance_reconciled", "user", userID, "local", u.Balance, "remote", snap.Balance)
	u.Balance = snap.Balance
	return store.SaveUser(u)
}

// RunSyncer reconciles all known users on the configured interval until the
// context is cancelled. Individual fetch failures degrade to the local
// snapshot and never stop the loop.
func RunSyncer(ctx context.Context, c *Client, interval time.Duration) {
	if c == nil {
		logger.Info("profile_sync_disabled")
		return
	}
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}
	logger.Info("profile_sync_started", "interval", interval.String())
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("profile_sync_stopped")
			return
		case <-t.C:
			users, err := store.ListUsers()
			if err != nil {
				logger.Warn("profile_sync_list_failed", "error", err)
				continue
			}
			for _, u := range users {
				if err := c.Reconcile(ctx, u.ID); err != nil {
					logger.Warn("profile_sync_failed", "user", u.ID, "error", err)
				}
			}
		}
	}
}
