// Package dispatch delivers report images to recipients over a messaging
// channel, one at a time, with a mandatory pause between sends.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/report-dispatch/internal/models"
	"github.com/garyjia/report-dispatch/pkg/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPacingDelay is the pause enforced after every send attempt
const DefaultPacingDelay = 10 * time.Second

var (
	// ErrInvalidAddress is returned for empty or unrecognised recipient addresses
	ErrInvalidAddress = errors.New("invalid recipient address")
	// ErrNoMessenger is returned when no messaging channel is configured
	ErrNoMessenger = errors.New("messaging channel unavailable")
)

// Messenger is the external messaging capability
type Messenger interface {
	// SendImage delivers the image with caption and returns the channel's
	// message ID. ctx carries the DeliveryKey shared by retries of one delivery.
	SendImage(ctx context.Context, address, imagePath, caption string) (string, error)
}

// Dispatcher sends images through a Messenger. Calls are serialised and,
// after any attempt that reached the channel, the next attempt waits for the
// pacing delay, no matter which recipient it is for.
type Dispatcher struct {
	messenger   Messenger
	pacing      time.Duration
	retry       *RetryStrategy
	countryCode string
	sendTimeout time.Duration
	paceOnEntry bool
	logger      *zap.Logger

	mu          sync.Mutex
	nextAllowed time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithPacingDelay sets the pause after each send attempt
func WithPacingDelay(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.pacing = d
	}
}

// WithRetryStrategy enables retries of temporary channel errors
func WithRetryStrategy(s *RetryStrategy) Option {
	return func(disp *Dispatcher) {
		if s != nil {
			disp.retry = s
		}
	}
}

// WithDefaultCountryCode is prefixed to bare ten-digit phone numbers
func WithDefaultCountryCode(code string) Option {
	return func(disp *Dispatcher) {
		disp.countryCode = code
	}
}

// WithSendTimeout bounds a single send attempt; zero means no bound
func WithSendTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.sendTimeout = d
	}
}

// WithPacingOnEntry makes Dispatch return as soon as the delivery settles.
// The pacing delay is still recorded and waited out by the next call. Suits
// one-shot sends that exit right after.
func WithPacingOnEntry() Option {
	return func(disp *Dispatcher) {
		disp.paceOnEntry = true
	}
}

// NewDispatcher creates a dispatcher over messenger
func NewDispatcher(messenger Messenger, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		messenger: messenger,
		pacing:    DefaultPacingDelay,
		retry:     NoRetry(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PacingDelay returns the configured pause between sends
func (d *Dispatcher) PacingDelay() time.Duration {
	return d.pacing
}

// Dispatch sends the image at imagePath to address with caption. It never
// returns an error: every failure is reported as a Failed outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, address, imagePath, caption string) models.DeliveryOutcome {
	recipient := utils.NormalizeContact(address, d.countryCode)
	if err := utils.ValidateContact(recipient); err != nil {
		d.logger.Warn("Recipient address rejected",
			zap.String("address", address),
			zap.Error(err))
		return models.Failed(fmt.Sprintf("%v: %v", ErrInvalidAddress, err), 0)
	}
	if d.messenger == nil {
		return models.Failed(ErrNoMessenger.Error(), 0)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := waitUntil(ctx, d.nextAllowed); err != nil {
		return models.Failed(fmt.Sprintf("dispatch cancelled: %v", err), 0)
	}

	key := uuid.NewString()
	ctx = WithDeliveryKey(ctx, key)

	maxAttempts := d.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		attempts int
		lastErr  error
	)
	for attempts < maxAttempts {
		attempts++
		started := time.Now()

		messageID, err := d.send(ctx, recipient, imagePath, caption)
		d.nextAllowed = time.Now().Add(d.pacing)

		if err == nil {
			d.logger.Info("Report delivered",
				zap.String("recipient", recipient),
				zap.String("delivery_key", key),
				zap.String("message_id", messageID),
				zap.Int("attempts", attempts))
			d.pace(ctx)
			return models.Sent(messageID, attempts)
		}

		lastErr = err
		if attempts >= maxAttempts || ctx.Err() != nil || !d.retry.IsTemporaryError(err) {
			break
		}

		retryAt := started.Add(d.retry.CalculateBackoff(attempts))
		if retryAt.Before(d.nextAllowed) {
			retryAt = d.nextAllowed
		}
		d.logger.Warn("Temporary delivery failure, retrying",
			zap.String("recipient", recipient),
			zap.String("delivery_key", key),
			zap.Int("attempt", attempts),
			zap.Time("retry_at", retryAt),
			zap.Error(err))
		if err := waitUntil(ctx, retryAt); err != nil {
			break
		}
	}

	d.logger.Error("Report delivery failed",
		zap.String("recipient", recipient),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	d.pace(ctx)
	return models.Failed(lastErr.Error(), attempts)
}

// send performs one attempt. A panicking messenger is reported as an error.
func (d *Dispatcher) send(ctx context.Context, recipient, imagePath, caption string) (messageID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Messenger panicked",
				zap.String("recipient", recipient),
				zap.Any("panic", r))
			err = fmt.Errorf("messenger panic: %v", r)
		}
	}()

	if d.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()
	}

	return d.messenger.SendImage(ctx, recipient, imagePath, caption)
}

// pace blocks until the next send is allowed. If ctx ends first the
// deadline stays recorded and the next Dispatch call waits for it.
func (d *Dispatcher) pace(ctx context.Context) {
	if d.paceOnEntry {
		return
	}
	_ = waitUntil(ctx, d.nextAllowed)
}

func waitUntil(ctx context.Context, t time.Time) error {
	delay := time.Until(t)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
