package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shotonme/shotonme-client/internal/realtime"
)

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("watch", a.out)
	metricsAddr := fs.String("metrics-addr", a.cfg.MetricsAddr, "serve Prometheus metrics on this address")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.cfg.SocketURL == "" {
		return errors.New("no realtime endpoint configured; set SHOTONME_SOCKET_URL")
	}

	center := a.newCenter()
	if n, ok := center.Cached(ctx); ok {
		fmt.Fprintf(a.out, "%d unread (cached)\n", n)
	}
	if err := center.Refresh(ctx); err != nil {
		// The push channel still delivers new items without the initial list.
		a.logger.Warn("failed to load notifications", slog.String("error", err.Error()))
	} else {
		fmt.Fprintf(a.out, "%d unread\n", center.UnreadCount())
	}

	dispatcher := realtime.NewDispatcher(a.logger, a.realtimeMetrics)
	dispatcher.On(realtime.EventNewNotification, realtime.NotificationHandler(ctx, center))
	dispatcher.On(realtime.EventNewNotification, func(json.RawMessage) error {
		fmt.Fprintf(a.out, "new notification, %d unread\n", center.UnreadCount())
		return nil
	})
	dispatcher.On(realtime.EventWalletUpdated, printEvent(a, "wallet updated"))
	dispatcher.On(realtime.EventPaymentRedeemed, printEvent(a, "payment redeemed"))

	client, err := realtime.NewClient(realtime.DefaultConfig(a.cfg.SocketURL), a.tokens, dispatcher.Handle, a.logger, a.realtimeMetrics)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := client.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		return err
	})
	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           metricsMux(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("serving metrics", slog.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}

// printEvent reports a wallet event. The payload is informational; balances
// are refetched by whoever shows them.
func printEvent(a *app, label string) realtime.HandlerFunc {
	return func(data json.RawMessage) error {
		fmt.Fprintf(a.out, "%s: %s\n", label, compactJSON(data))
		return nil
	}
}

func compactJSON(data json.RawMessage) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return string(data)
	}
	return string(b)
}
