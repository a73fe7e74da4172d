package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/gasflow/orderflow/internal/cart"
	"github.com/gasflow/orderflow/internal/config"
	"github.com/gasflow/orderflow/internal/controller"
	"github.com/gasflow/orderflow/internal/identity"
	"github.com/gasflow/orderflow/internal/order"
	"github.com/gasflow/orderflow/internal/realtime"
	"github.com/gasflow/orderflow/internal/repo"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg := config.Load()

	id, err := resolveIdentity(cfg)
	if err != nil {
		logger.Error("resolve identity", "error", err)
		os.Exit(1)
	}

	carts, err := cart.Open(cfg.CartDBPath)
	if err != nil {
		logger.Error("open cart store", "error", err)
		os.Exit(1)
	}
	defer carts.Close()

	client := repo.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	list := controller.NewOrderList(id, carts, client, logger)
	list.SetOnChange(func() { printView(context.Background(), list) })

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := list.Refresh(ctx); err != nil {
		// A network failure keeps the cached projection; anything else is
		// fatal at startup.
		if !errors.Is(err, order.ErrNetwork) {
			logger.Error("initial fetch", "error", err)
			os.Exit(1)
		}
		logger.Warn("starting from cached orders", "error", err)
	}
	printView(ctx, list)

	channel := realtime.NewChannel(cfg.WSBaseURL, logger)
	events, err := channel.Subscribe(ctx, id)
	if err != nil {
		logger.Error("subscribe to order events", "error", err)
		os.Exit(1)
	}

	logger.Info("watching orders", "identity", id.Key())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				logger.Info("event stream closed")
				return
			}
			list.HandleEvent(ev)
		}
	}
}

// resolveIdentity prefers a signed session token; without one a guest
// device identity is minted so the cart still works offline.
func resolveIdentity(cfg *config.Config) (identity.Identity, error) {
	if token := os.Getenv("SESSION_TOKEN"); token != "" {
		return identity.FromToken(cfg.JWTSecret, token)
	}
	return identity.Guest(os.Getenv("DEVICE_ID")), nil
}

func printView(ctx context.Context, list *controller.OrderList) {
	view, err := list.View(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build view: %v\n", err)
		return
	}
	for _, o := range view.Orders {
		fee := "fee may vary"
		if o.DeliveryFee != nil {
			fee = o.DeliveryFee.StringFixed(2)
		}
		name := o.ID.String()
		if o.ID == uuid.Nil {
			name = "cart"
		}
		fmt.Printf("%-36s  %-11s  total=%s  delivery=%s\n", name, o.Status, o.TotalPrice.StringFixed(2), fee)
	}
}
