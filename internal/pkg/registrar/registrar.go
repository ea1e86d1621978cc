// Package registrar announces a public server to the discovery registrar.
// The announcement is strictly out-of-band: the protocol engine neither
// blocks on nor depends on its outcome.
package registrar

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Announcement is the registration payload for a public server listing.
type Announcement struct {
	Name       string `json:"name"`
	PublicAddr string `json:"public_addr"`
}

// Client posts announcements to a registrar URL.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a registrar client for the given URL.
func NewClient(url string) *Client {
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register posts the announcement once.
func (c *Client) Register(ctx context.Context, a Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal announcement failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new registrar request failed")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "registrar request failed")
	}
	defer resp.Body.Close() // nolint: errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("registrar returned %s", resp.Status)
	}
	return nil
}

// Announce fires Register in the background and logs the outcome. The
// caller continues immediately; registration failure never fails the server.
func (c *Client) Announce(ctx context.Context, a Announcement) {
	go func() {
		if err := c.Register(ctx, a); err != nil {
			logger.WithField("url", c.url).WithError(err).Warn("registrar announcement failed")
			return
		}
		logger.WithFields(logrus.Fields{
			"url":  c.url,
			"name": a.Name,
			"addr": a.PublicAddr,
		}).Info("registered with registrar")
	}()
}
