package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-relay/internal/keystore"
	"notification-relay/internal/models"
	"notification-relay/internal/testutil"
)

type recordingForwarder struct {
	events []models.NormalizedEvent
	status int
	err    error
}

func (f *recordingForwarder) Forward(_ context.Context, event models.NormalizedEvent) (int, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return 0, f.err
	}
	return f.status, nil
}

type panickingVerifier struct{}

func (panickingVerifier) Verify(context.Context, string) (map[string]interface{}, error) {
	panic("verifier must not be called")
}

type pipelineFixture struct {
	signer    *testutil.Signer
	forwarder *recordingForwarder
	pipeline  *NotificationPipeline
}

func newPipelineFixture(t *testing.T, replay ReplayGuard) *pipelineFixture {
	t.Helper()
	signer := testutil.NewSigner(t, "apple-1")
	forwarder := &recordingForwarder{status: http.StatusOK}
	return &pipelineFixture{
		signer:    signer,
		forwarder: forwarder,
		pipeline:  NewNotificationPipeline(newTestVerifier(t, signer), NewEventNormalizer(fixedClock), forwarder, replay),
	}
}

func (f *pipelineFixture) body(t *testing.T, notification map[string]interface{}) []byte {
	t.Helper()
	return []byte(`{"signedPayload":"` + f.signer.Sign(t, notification) + `"}`)
}

func (f *pipelineFixture) subscribed(t *testing.T, uuid string) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		"notificationType": "SUBSCRIBED",
		"subtype":          "INITIAL_BUY",
		"notificationUUID": uuid,
		"version":          "2.0",
		"signedDate":       1700000000000,
		"data": map[string]interface{}{
			"appAppleId":  1234567890,
			"bundleId":    "com.example.app",
			"environment": "Sandbox",
			"signedTransactionInfo": f.signer.Sign(t, map[string]interface{}{
				"transactionId":         "2000000001",
				"originalTransactionId": "1000000001",
				"productId":             "pro_monthly",
				"expiresDate":           1700000000000,
				"appAccountToken":       "acct-token",
			}),
			"signedRenewalInfo": f.signer.Sign(t, map[string]interface{}{
				"originalTransactionId": "1000000001",
				"autoRenewProductId":    "pro_monthly",
				"autoRenewStatus":       1,
			}),
		},
	}
}

func TestPipelineBypassesBodiesWithoutSignedPayload(t *testing.T) {
	forwarder := &recordingForwarder{status: http.StatusOK}
	pipeline := NewNotificationPipeline(panickingVerifier{}, nil, forwarder, nil)

	for _, body := range []string{
		`{}`,
		`{"hello":"world"}`,
		`{"signedPayload":""}`,
		`{"signedPayload":42}`,
		`{"signedPayload":null}`,
		``,
		`[1,2]`,
		`"ping"`,
		`not json`,
	} {
		result, err := pipeline.Process(context.Background(), []byte(body))
		require.NoError(t, err, body)
		assert.True(t, result.Bypassed, body)
		assert.Equal(t, body, string(result.Body))
		assert.Equal(t, http.StatusOK, result.StatusCode)
	}
	assert.Empty(t, forwarder.events)
}

func TestPipelineVerifiesNormalizesAndForwards(t *testing.T) {
	f := newPipelineFixture(t, nil)
	f.forwarder.status = http.StatusAccepted

	result, err := f.pipeline.Process(context.Background(), f.body(t, f.subscribed(t, "uuid-1")))
	require.NoError(t, err)

	assert.False(t, result.Bypassed)
	assert.True(t, result.Forwarded)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	require.Len(t, f.forwarder.events, 1)

	event := f.forwarder.events[0]
	assert.Equal(t, *result.Event, event)
	assert.Equal(t, OperationPurchase, event.Operation)
	assert.Equal(t, "Sandbox", event.Environment)
	assert.Equal(t, "uuid-1", event.NotificationID)
	assert.Equal(t, "2000000001", event.TransactionID)
	require.NotNil(t, event.TransactionExpiresAt)
	assert.Equal(t, "2023-11-14T22:13:20Z", *event.TransactionExpiresAt)
	assert.Equal(t, []string{"pro_monthly"}, event.Products)
	assert.Equal(t, "acct-token", event.AppAccountToken)
	assert.Equal(t, "2024-05-01T10:30:00Z", event.GeneratedAt)
}

func TestPipelineWithoutForwarder(t *testing.T) {
	signer := testutil.NewSigner(t, "apple-1")
	pipeline := NewNotificationPipeline(newTestVerifier(t, signer), NewEventNormalizer(fixedClock), nil, nil)

	body := []byte(`{"signedPayload":"` + signer.Sign(t, map[string]interface{}{"notificationType": "EXPIRED"}) + `"}`)
	result, err := pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	assert.False(t, result.Forwarded)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, OperationExpired, result.Event.Operation)
}

func TestPipelineRejectsInvalidNestedTokens(t *testing.T) {
	f := newPipelineFixture(t, nil)
	forger := testutil.NewSigner(t, "apple-1")

	t.Run("transaction info", func(t *testing.T) {
		notification := f.subscribed(t, "uuid-2")
		notification["data"].(map[string]interface{})["signedTransactionInfo"] = forger.Sign(t, map[string]interface{}{"productId": "free_upgrade"})

		_, err := f.pipeline.Process(context.Background(), f.body(t, notification))
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("renewal info", func(t *testing.T) {
		notification := f.subscribed(t, "uuid-3")
		notification["data"].(map[string]interface{})["signedRenewalInfo"] = "garbage"

		_, err := f.pipeline.Process(context.Background(), f.body(t, notification))
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("outer payload", func(t *testing.T) {
		body := []byte(`{"signedPayload":"` + forger.Sign(t, f.subscribed(t, "uuid-4")) + `"}`)
		_, err := f.pipeline.Process(context.Background(), body)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("unknown key", func(t *testing.T) {
		stranger := testutil.NewSigner(t, "other-kid")
		body := []byte(`{"signedPayload":"` + stranger.Sign(t, map[string]interface{}{}) + `"}`)
		_, err := f.pipeline.Process(context.Background(), body)
		assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
	})

	assert.Empty(t, f.forwarder.events)
}

func TestPipelineRejectsUndecodableClaims(t *testing.T) {
	f := newPipelineFixture(t, nil)

	_, err := f.pipeline.Process(context.Background(), f.body(t, map[string]interface{}{"data": "not an object"}))
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.Empty(t, f.forwarder.events)
}

func TestPipelineForwardFailure(t *testing.T) {
	replay := NewReplayProtection(time.Hour)
	t.Cleanup(replay.Stop)
	f := newPipelineFixture(t, replay)
	f.forwarder.err = errors.New("connection refused")
	body := f.body(t, f.subscribed(t, "uuid-5"))

	_, err := f.pipeline.Process(context.Background(), body)
	assert.ErrorIs(t, err, ErrForwardFailed)

	// the mark is released so Apple's retry goes through
	f.forwarder.err = nil
	result, err := f.pipeline.Process(context.Background(), body)
	require.NoError(t, err)
	assert.True(t, result.Forwarded)
}

func TestPipelineReplayProtection(t *testing.T) {
	replay := NewReplayProtection(time.Hour)
	t.Cleanup(replay.Stop)
	f := newPipelineFixture(t, replay)
	body := f.body(t, f.subscribed(t, "uuid-6"))

	_, err := f.pipeline.Process(context.Background(), body)
	require.NoError(t, err)

	_, err = f.pipeline.Process(context.Background(), body)
	assert.ErrorIs(t, err, ErrDuplicateNotification)
	assert.Len(t, f.forwarder.events, 1)

	t.Run("non-2xx downstream releases the mark", func(t *testing.T) {
		f.forwarder.status = http.StatusServiceUnavailable
		retried := f.body(t, f.subscribed(t, "uuid-7"))

		result, err := f.pipeline.Process(context.Background(), retried)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)

		f.forwarder.status = http.StatusOK
		result, err = f.pipeline.Process(context.Background(), retried)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, result.StatusCode)
	})
}

// cancellableGuard fails Forget on a done context, like the Redis guard does.
type cancellableGuard struct {
	*ReplayProtection
}

func (g cancellableGuard) Forget(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.ReplayProtection.Forget(ctx, id)
}

type cancellingForwarder struct {
	cancel context.CancelFunc
}

func (f cancellingForwarder) Forward(ctx context.Context, _ models.NormalizedEvent) (int, error) {
	f.cancel()
	return 0, ctx.Err()
}

func TestPipelineReleasesMarkWhenRequestIsCancelled(t *testing.T) {
	replay := NewReplayProtection(time.Hour)
	t.Cleanup(replay.Stop)
	guard := cancellableGuard{replay}

	signer := testutil.NewSigner(t, "apple-1")
	verifier := newTestVerifier(t, signer)
	body := []byte(`{"signedPayload":"` + signer.Sign(t, map[string]interface{}{
		"notificationType": "DID_RENEW",
		"notificationUUID": "uuid-cancelled",
	}) + `"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := NewNotificationPipeline(verifier, NewEventNormalizer(fixedClock), cancellingForwarder{cancel: cancel}, guard)
	_, err := first.Process(ctx, body)
	assert.ErrorIs(t, err, ErrForwardFailed)

	retry := NewNotificationPipeline(verifier, NewEventNormalizer(fixedClock), &recordingForwarder{status: http.StatusOK}, guard)
	result, err := retry.Process(context.Background(), body)
	require.NoError(t, err)
	assert.True(t, result.Forwarded)
}
