package tollgate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier resolves every verification with a fixed result, optionally
// blocking until released.
type stubVerifier struct {
	result  VerifyResult
	release chan struct{}
}

func (s *stubVerifier) Verify(ctx context.Context, txHash string, expected PaymentAuthorization) VerifyResult {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return VerifyResult{Reason: ReasonProviderError}
		}
	}
	return s.result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerifyPoolResolvesSubmission(t *testing.T) {
	verifier := &stubVerifier{result: VerifyResult{Verified: true, Confirmations: 3}}
	pool := NewVerifyPool(verifier, quietLogger(), 2, 4)
	defer pool.Close()

	pending, err := pool.Submit(PaymentAuthorization{Owner: "0xabc"}, "0xhash")
	require.NoError(t, err)
	assert.NotEmpty(t, pending.ID)

	select {
	case <-pending.Done():
	case <-time.After(time.Second):
		t.Fatal("verification did not resolve")
	}

	result, ok := pending.Result()
	require.True(t, ok)
	assert.True(t, result.Verified)
	assert.Equal(t, uint64(3), result.Confirmations)
}

func TestVerifyPoolResultBeforeDone(t *testing.T) {
	verifier := &stubVerifier{result: VerifyResult{Verified: true}, release: make(chan struct{})}
	pool := NewVerifyPool(verifier, quietLogger(), 1, 1)
	defer pool.Close()

	pending, err := pool.Submit(PaymentAuthorization{}, "0xhash")
	require.NoError(t, err)

	_, ok := pending.Result()
	assert.False(t, ok, "result must not be available while verification runs")

	close(verifier.release)
	<-pending.Done()
	_, ok = pending.Result()
	assert.True(t, ok)
}

func TestVerifyPoolQueueSaturation(t *testing.T) {
	verifier := &stubVerifier{result: VerifyResult{Verified: true}, release: make(chan struct{})}
	pool := NewVerifyPool(verifier, quietLogger(), 1, 1)
	defer pool.Close()

	// First submission occupies the worker, second fills the queue. Give the
	// worker a moment to pick up the first job.
	first, err := pool.Submit(PaymentAuthorization{}, "0x1")
	require.NoError(t, err)
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := pool.Submit(PaymentAuthorization{}, "0x2"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second submission never fit the queue")
		}
		time.Sleep(time.Millisecond)
	}

	_, err = pool.Submit(PaymentAuthorization{}, "0x3")
	assert.Error(t, err, "queue beyond capacity must be rejected")

	close(verifier.release)
	<-first.Done()
}

func TestVerifyPoolCloseRejectsSubmissions(t *testing.T) {
	verifier := &stubVerifier{result: VerifyResult{Verified: true}}
	pool := NewVerifyPool(verifier, quietLogger(), 1, 1)
	pool.Close()

	_, err := pool.Submit(PaymentAuthorization{}, "0xhash")
	assert.Error(t, err)
}
