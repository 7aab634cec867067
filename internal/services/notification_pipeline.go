package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"notification-relay/internal/models"
	"notification-relay/pkg/logging"
)

var (
	// ErrDuplicateNotification is returned when the replay guard has seen the notification.
	ErrDuplicateNotification = errors.New("duplicate notification")
	// ErrForwardFailed is returned when the event could not be delivered at all.
	ErrForwardFailed = errors.New("failed to forward event")
)

// Verifier verifies a compact JWS and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (map[string]interface{}, error)
}

// PipelineResult is the outcome of one processed request.
type PipelineResult struct {
	// Bypassed is set when the body had no signedPayload; Body then holds the input unchanged.
	Bypassed bool
	Body     []byte

	Event      *models.NormalizedEvent
	Forwarded  bool
	StatusCode int
}

// NotificationPipeline verifies, normalizes and forwards App Store notifications.
type NotificationPipeline struct {
	verifier   Verifier
	normalizer *EventNormalizer
	forwarder  Forwarder
	replay     ReplayGuard
}

// NewNotificationPipeline creates a pipeline. forwarder and replay may be nil
// to disable delivery and replay protection.
func NewNotificationPipeline(verifier Verifier, normalizer *EventNormalizer, forwarder Forwarder, replay ReplayGuard) *NotificationPipeline {
	if normalizer == nil {
		normalizer = NewEventNormalizer(nil)
	}
	return &NotificationPipeline{
		verifier:   verifier,
		normalizer: normalizer,
		forwarder:  forwarder,
		replay:     replay,
	}
}

// Process handles one request body. Verification is all-or-nothing across the
// outer token and both nested tokens; nothing is forwarded on error.
func (p *NotificationPipeline) Process(ctx context.Context, body []byte) (result *PipelineResult, err error) {
	signedPayload := extractSignedPayload(body)
	if signedPayload == "" {
		logging.Infof("No signedPayload in request, passing body through")
		return &PipelineResult{Bypassed: true, Body: body, StatusCode: http.StatusOK}, nil
	}

	var notification models.AppStoreNotification
	if err := p.verifyInto(ctx, "notification", signedPayload, &notification); err != nil {
		return nil, err
	}

	logging.Infof("Verified notification - type: %s, subtype: %s, bundle_id: %s, environment: %s, uuid: %s",
		notification.NotificationType, notification.Subtype, notification.Data.BundleID, notification.Data.Environment, notification.NotificationUUID)

	if p.replay != nil {
		duplicate, err := p.replay.Mark(ctx, notification.NotificationUUID)
		if err != nil {
			return nil, err
		}
		if duplicate {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNotification, notification.NotificationUUID)
		}
		defer func() {
			if err != nil || (result != nil && !isSuccess(result.StatusCode)) {
				// the request may already be cancelled, the mark must still go
				if forgetErr := p.replay.Forget(context.WithoutCancel(ctx), notification.NotificationUUID); forgetErr != nil {
					logging.Errorf("Failed to release replay mark for %s: %v", notification.NotificationUUID, forgetErr)
				}
			}
		}()
	}

	var txn *models.TransactionInfo
	if token := notification.Data.SignedTransactionInfo; token != "" {
		txn = &models.TransactionInfo{}
		if err := p.verifyInto(ctx, "transaction info", token, txn); err != nil {
			return nil, err
		}
	}

	var renewal *models.RenewalInfo
	if token := notification.Data.SignedRenewalInfo; token != "" {
		renewal = &models.RenewalInfo{}
		if err := p.verifyInto(ctx, "renewal info", token, renewal); err != nil {
			return nil, err
		}
	}

	event := p.normalizer.Normalize(&notification, txn, renewal)
	result = &PipelineResult{Event: &event, StatusCode: http.StatusOK}

	if p.forwarder == nil {
		logging.Debugf("Forwarding disabled, event for %s not relayed", event.NotificationID)
		return result, nil
	}

	status, err := p.forwarder.Forward(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}
	result.Forwarded = true
	result.StatusCode = status
	return result, nil
}

// extractSignedPayload returns the signedPayload string of a JSON object body.
// Anything else (empty, non-object, missing or non-string field) yields "".
func extractSignedPayload(body []byte) string {
	var wrapper models.AppStoreNotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return ""
	}
	return wrapper.SignedPayload
}

// verifyInto verifies token and decodes its claims into out.
func (p *NotificationPipeline) verifyInto(ctx context.Context, layer, token string, out interface{}) error {
	claims, err := p.verifier.Verify(ctx, token)
	if err != nil {
		return fmt.Errorf("%s: %w", layer, err)
	}
	if err := decodeClaims(claims, out); err != nil {
		return fmt.Errorf("%s: %w: %v", layer, ErrMalformedToken, err)
	}
	return nil
}

func decodeClaims(claims map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create claims decoder: %w", err)
	}
	return decoder.Decode(claims)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
