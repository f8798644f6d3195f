package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shotonme/shotonme-client/internal/notification"
)

// Notifications lists the user's notifications, newest first.
func (c *Client) Notifications(ctx context.Context) ([]notification.Notification, error) {
	var out struct {
		Notifications []notification.Notification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// UnreadCount returns the backend's unread counter.
// Both {"count": n} and {"unreadCount": n} are accepted.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count       *int `json:"count"`
		UnreadCount *int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodGet, "/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	switch {
	case out.Count != nil:
		return *out.Count, nil
	case out.UnreadCount != nil:
		return *out.UnreadCount, nil
	}
	return 0, nil
}

// MarkNotificationRead marks one notification read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllNotificationsRead marks every notification read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil)
}

// DeleteNotification removes one notification.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, nil)
}
