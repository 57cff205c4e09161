// Package mojang resolves usernames to stable Mojang profile ids and back.
// The engine treats it as the optional external identity collaborator.
package mojang

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrProfileNotFound = errors.New("profile not found")

type Client struct {
	http       *http.Client
	profileURL string
	sessionURL string
}

// New builds a client. profileURL resolves name -> id, sessionURL resolves
// id -> name (the public Mojang API split).
func New(profileURL, sessionURL string, timeout time.Duration) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		profileURL: profileURL,
		sessionURL: sessionURL,
	}
}

type profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveID maps a username to its stable profile id.
func (c *Client) ResolveID(ctx context.Context, name string) (string, error) {
	const op = "mojang.ResolveID"

	p, err := c.fetch(ctx, c.profileURL+"/"+url.PathEscape(name))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return p.ID, nil
}

// ResolveName maps a profile id back to the current canonical username.
func (c *Client) ResolveName(ctx context.Context, externalID string) (string, error) {
	const op = "mojang.ResolveName"

	p, err := c.fetch(ctx, c.sessionURL+"/"+url.PathEscape(externalID))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return p.Name, nil
}

func (c *Client) fetch(ctx context.Context, u string) (profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return profile{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return profile{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return profile{}, ErrProfileNotFound
	default:
		return profile{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var p profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return profile{}, err
	}

	if p.ID == "" {
		return profile{}, ErrProfileNotFound
	}

	return p, nil
}
