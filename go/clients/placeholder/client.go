package placeholder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/querycountdown/go/clients"
)

// User is a user record served by the placeholder API
type User struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type Client struct {
	*clients.BaseClient
}

// NewClient creates a client for the given base URL; an empty URL means BaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	client.SetHeader("Accept", "application/json")
	return client
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	body, err := c.Get(ctx, UsersEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	var users []User
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}

	return users, nil
}
