package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/askwhyharsh/safezone/internal/location"
	apperrors "github.com/askwhyharsh/safezone/pkg/errors"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

// Recipient is anyone who can receive an SMS alert.
type Recipient struct {
	ID    string
	Name  string
	Phone string
}

type Failure struct {
	Recipient Recipient
	Err       error
}

// Result summarises a fan-out.
type Result struct {
	Sent   int
	Failed []Failure
}

// Dispatcher sends alerts to contacts one at a time and keeps going when a
// single delivery fails.
type Dispatcher struct {
	sender             Sender
	defaultCountryCode string
	limiter            *rate.Limiter
	logger             logger.Logger
}

// NewDispatcher throttles outbound messages to perSecond (burst 5). A
// non-positive perSecond disables throttling.
func NewDispatcher(sender Sender, defaultCountryCode string, perSecond float64, log logger.Logger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 5)
	}
	return &Dispatcher{
		sender:             sender,
		defaultCountryCode: defaultCountryCode,
		limiter:            limiter,
		logger:             log,
	}
}

// SendAlert sends a location alert to a single number.
func (d *Dispatcher) SendAlert(ctx context.Context, phone string, loc *location.Point, message string) error {
	return d.Send(ctx, phone, Alert{Kind: KindAlert, Message: message, Location: loc})
}

// Send normalises phone and delivers the rendered alert.
func (d *Dispatcher) Send(ctx context.Context, phone string, alert Alert) error {
	to, err := NormalizePhone(phone, d.defaultCountryCode)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDispatchFailure, err)
	}
	if d.sender == nil {
		return apperrors.ErrSenderNotEnabled
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDispatchFailure, err)
	}
	if err := d.sender.Send(ctx, to, alert.Body()); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDispatchFailure, err)
	}
	return nil
}

// Broadcast sends alert to every recipient in order.
func (d *Dispatcher) Broadcast(ctx context.Context, recipients []Recipient, alert Alert) Result {
	var res Result
	for _, r := range recipients {
		if err := d.Send(ctx, r.Phone, alert); err != nil {
			d.logger.Error("Failed to notify contact", "contact_id", r.ID, "error", err)
			res.Failed = append(res.Failed, Failure{Recipient: r, Err: err})
			continue
		}
		res.Sent++
	}
	d.logger.Info("Alert fan-out finished", "sent", res.Sent, "failed", len(res.Failed))
	return res
}
