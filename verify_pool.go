package tollgate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// PendingVerification is the handle attached to a request granted under the
// asynchronous discipline. Done closes once the background verification has
// resolved; Result is valid after that.
type PendingVerification struct {
	ID            string
	TxHash        string
	Authorization PaymentAuthorization

	done   chan struct{}
	mu     sync.Mutex
	result VerifyResult
}

// Done returns a channel that closes when the verification has resolved.
func (p *PendingVerification) Done() <-chan struct{} {
	return p.done
}

// Result returns the verification outcome. ok is false while the
// verification is still running.
func (p *PendingVerification) Result() (result VerifyResult, ok bool) {
	select {
	case <-p.done:
	default:
		return VerifyResult{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, true
}

func (p *PendingVerification) resolve(result VerifyResult) {
	p.mu.Lock()
	p.result = result
	p.mu.Unlock()
	close(p.done)
}

// VerifyPool runs settlement verifications in a bounded set of workers.
// Requests granted under the asynchronous discipline submit here instead of
// spawning detached goroutines, so verification work is capped, observable
// and cancelled together on shutdown.
type VerifyPool struct {
	verifier SettlementVerifier
	logger   *slog.Logger
	jobs     chan *PendingVerification
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewVerifyPool starts workers goroutines consuming a queue of queueSize
// pending verifications. Outcomes are only observed through the logger:
// success at info, failure at warning. A verification that fails here never
// revokes the access that was already granted.
func NewVerifyPool(verifier SettlementVerifier, logger *slog.Logger, workers, queueSize int) *VerifyPool {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &VerifyPool{
		verifier: verifier,
		logger:   logger,
		jobs:     make(chan *PendingVerification, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *VerifyPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			// Drain what is already queued so no handle is left unresolved.
			for {
				select {
				case pending := <-p.jobs:
					pending.resolve(VerifyResult{Reason: ReasonProviderError, Details: map[string]interface{}{
						"error": "verification pool shut down",
					}})
				default:
					return
				}
			}
		case pending := <-p.jobs:
			result := p.verifier.Verify(p.ctx, pending.TxHash, pending.Authorization)
			pending.resolve(result)
			if result.Verified {
				p.logger.Info("background settlement verification succeeded",
					"verification_id", pending.ID,
					"tx_hash", pending.TxHash,
					"owner", pending.Authorization.Owner,
					"confirmations", result.Confirmations,
				)
			} else {
				p.logger.Warn("background settlement verification failed",
					"verification_id", pending.ID,
					"tx_hash", pending.TxHash,
					"owner", pending.Authorization.Owner,
					"reason", result.Reason,
				)
			}
		}
	}
}

// Submit enqueues a verification and returns its handle. It fails when the
// queue is saturated or the pool has been closed; the caller decides how to
// degrade.
func (p *VerifyPool) Submit(auth PaymentAuthorization, txHash string) (*PendingVerification, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("verification pool is closed")
	}
	p.mu.Unlock()

	pending := &PendingVerification{
		ID:            uuid.NewString(),
		TxHash:        txHash,
		Authorization: auth,
		done:          make(chan struct{}),
	}

	select {
	case p.jobs <- pending:
		return pending, nil
	default:
		return nil, fmt.Errorf("verification queue is full")
	}
}

// Close stops accepting submissions, cancels in-flight verifications and
// waits for the workers to exit.
func (p *VerifyPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
