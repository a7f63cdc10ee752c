package renewal

import (
	"context"
	"log/slog"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentlink"
)

// PaymentLinker creates a hosted payment link for the renewal fee.
type PaymentLinker interface {
	CreateLink(ctx context.Context, description string) (string, error)
}

// PaymentPresenter surfaces the link to the caller (SMS, on-screen prompt);
// the engine stays opaque to how it is shown.
type PaymentPresenter func(url string)

// StripeLinker creates Stripe payment links against a preconfigured price.
type StripeLinker struct {
	// PriceID is the Stripe price for the renewal fee.
	PriceID string
	Log     *slog.Logger
}

// CreateLink creates a single-quantity payment link.
func (s *StripeLinker) CreateLink(ctx context.Context, description string) (string, error) {
	params := &stripe.PaymentLinkParams{
		LineItems: []*stripe.PaymentLinkLineItemParams{{
			Price:    stripe.String(s.PriceID),
			Quantity: stripe.Int64(1),
		}},
	}
	params.Context = ctx
	if description != "" {
		params.AddMetadata("description", description)
	}

	pl, err := paymentlink.New(params)
	if err != nil {
		return "", err
	}
	if s.Log != nil {
		s.Log.Info("payment link created", "payment_link", pl.ID)
	}
	return pl.URL, nil
}

// StaticLinker returns a fixed URL; used when Stripe is not configured.
type StaticLinker struct {
	URL string
}

func (s *StaticLinker) CreateLink(ctx context.Context, description string) (string, error) {
	return s.URL, nil
}
