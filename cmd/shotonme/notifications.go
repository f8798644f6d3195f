package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shotonme/shotonme-client/internal/notification"
)

func runNotifications(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return usageErrorf("notifications: expected list, count, read, read-all or delete")
	}
	center := a.newCenter()

	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		if err := center.Refresh(ctx); err != nil {
			return err
		}
		printNotifications(a.out, center.Items(), time.Now())
		fmt.Fprintf(a.out, "%d unread\n", center.UnreadCount())
	case "count":
		if n, ok := center.Cached(ctx); ok {
			a.logger.Debug("cached unread count", slog.Int("count", n))
		}
		n, err := center.RefreshCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, n)
	case "read", "delete":
		if len(rest) != 1 {
			return usageErrorf("notifications %s: expected one notification id", sub)
		}
		if err := center.Refresh(ctx); err != nil {
			return err
		}
		var err error
		if sub == "read" {
			err = center.MarkRead(ctx, rest[0])
		} else {
			err = center.Delete(ctx, rest[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%d unread\n", center.UnreadCount())
	case "read-all":
		if err := center.Refresh(ctx); err != nil {
			return err
		}
		if err := center.MarkAllRead(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "0 unread")
	default:
		return usageErrorf("notifications: unknown subcommand %q", sub)
	}
	return nil
}

func printNotifications(w io.Writer, items []notification.Notification, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No notifications")
		return
	}
	for _, n := range items {
		marker := "•"
		if n.Read {
			marker = " "
		}
		fmt.Fprintf(w, "%s %-24s %-17s %-8s %s\n", marker, n.ID, n.Type, age(n.CreatedAt, now), n.Content)
	}
}

// age renders how long ago t was, coarsely.
func age(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
