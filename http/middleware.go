package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tollgate "github.com/tollgate-protocol/tollgate-go"
	"github.com/tollgate-protocol/tollgate-go/evm"
)

// Discipline selects when access is granted relative to settlement proof.
type Discipline string

const (
	// DisciplineSync blocks the request until settlement verification
	// resolves, then grants or denies.
	DisciplineSync Discipline = "required-sync"

	// DisciplineAsync grants on signature success and verifies settlement in
	// the background. The eventual outcome is only observed via logging and
	// never revokes the granted access; this trades a risk window for
	// latency.
	DisciplineAsync Discipline = "required-async"

	// DisciplineOptional runs the full pipeline but logs failures instead of
	// blocking. Used for routes where proof is advisory.
	DisciplineOptional Discipline = "optional"
)

// GateConfig configures a Gate. Routes, Domain and Token are always
// required; Verifier is required for the sync and optional disciplines, and
// Pool for the async discipline.
type GateConfig struct {
	Routes     tollgate.PriceResolver
	Domain     tollgate.Domain
	Token      string
	Discipline Discipline

	Verifier   tollgate.SettlementVerifier
	Pool       *tollgate.VerifyPool
	Guard      tollgate.ReplayGuard      // optional; rejects reused settlement hashes at the gate
	Signatures tollgate.SignatureVerifier // defaults to the EVM typed-data verifier
	Logger     *slog.Logger

	ChallengeWindow time.Duration
	Now             func() time.Time
}

// Gate is the per-request gating state machine. One Gate serves a set of
// routes sharing a discipline; all of its state is read-only configuration,
// so a single instance is safe for concurrent use.
type Gate struct {
	cfg     GateConfig
	builder *tollgate.ChallengeBuilder
	logger  *slog.Logger
	now     func() time.Time
}

// NewGate validates the configuration and builds a gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Routes == nil {
		return nil, fmt.Errorf("route resolver is required")
	}
	if cfg.Discipline == "" {
		cfg.Discipline = DisciplineSync
	}
	switch cfg.Discipline {
	case DisciplineSync, DisciplineOptional:
		if cfg.Verifier == nil {
			return nil, fmt.Errorf("settlement verifier is required for the %s discipline", cfg.Discipline)
		}
	case DisciplineAsync:
		if cfg.Pool == nil {
			return nil, fmt.Errorf("verification pool is required for the %s discipline", cfg.Discipline)
		}
	default:
		return nil, fmt.Errorf("unknown discipline: %s", cfg.Discipline)
	}
	if cfg.Signatures == nil {
		cfg.Signatures = evm.AuthorizationVerifier{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var opts []tollgate.ChallengeOption
	if cfg.ChallengeWindow > 0 {
		opts = append(opts, tollgate.WithChallengeWindow(cfg.ChallengeWindow))
	}
	opts = append(opts, tollgate.WithClock(cfg.Now))
	builder, err := tollgate.NewChallengeBuilder(cfg.Routes, cfg.Domain, cfg.Token, opts...)
	if err != nil {
		return nil, err
	}

	return &Gate{cfg: cfg, builder: builder, logger: cfg.Logger, now: cfg.Now}, nil
}

// Decision is the outcome of evaluating one request. When Allow is false the
// response is Status with Body as JSON; when it is true the request proceeds
// with Context attached (nil when no proof was verified, which only happens
// under the optional discipline).
type Decision struct {
	Allow   bool
	Status  int
	Body    interface{}
	Context *tollgate.VerificationContext
}

// Middleware wraps a handler with payment gating using the request path as
// the route identifier.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Evaluate(r.Context(), r.URL.Path, r.Header.Get(OwnerHeader), r.Header.Get(PaymentHeader))
		if !decision.Allow {
			writeJSON(w, decision.Status, decision.Body)
			return
		}
		if decision.Context != nil {
			r = r.WithContext(WithVerification(r.Context(), decision.Context))
		}
		next.ServeHTTP(w, r)
	})
}

// Evaluate runs the gating state machine for one request. Adapters for other
// HTTP frameworks call this directly.
func (g *Gate) Evaluate(ctx context.Context, routeID, ownerHint, paymentHeader string) Decision {
	if paymentHeader == "" {
		challenge, err := g.builder.NewChallenge(routeID, ownerHint)
		if err != nil {
			g.logger.Error("failed to build payment challenge", "route", routeID, "error", err)
			return Decision{Status: http.StatusInternalServerError, Body: tollgate.NewPaymentError(
				"internal_error", "failed to build payment challenge", nil)}
		}
		return Decision{Status: http.StatusPaymentRequired, Body: challenge}
	}

	proof, err := ValidateAndDecodeProofHeader(paymentHeader)
	if err != nil {
		return g.deny(routeID, http.StatusBadRequest, tollgate.ReasonSchemaInvalid, err.Error(), nil)
	}
	auth := proof.Authorization

	// Parameter validation against the *currently* resolved terms: price may
	// have changed since the challenge was issued, and the current price is
	// the one that binds.
	price, recipient := g.cfg.Routes.Resolve(routeID)
	var mismatched []string
	if auth.Value != price {
		mismatched = append(mismatched, "value")
	}
	if !strings.EqualFold(auth.Recipient, recipient) {
		mismatched = append(mismatched, "recipient")
	}
	if deadline, err := auth.DeadlineUnix(); err != nil || deadline <= g.now().Unix() {
		mismatched = append(mismatched, "deadline")
	}
	if proof.ChainID != "" && proof.ChainID != g.cfg.Domain.ChainID.String() {
		mismatched = append(mismatched, "chainId")
	}
	if len(mismatched) > 0 {
		return g.deny(routeID, http.StatusForbidden, tollgate.ReasonParameterMismatch,
			"payment parameters do not match the route terms",
			map[string]interface{}{"fields": mismatched})
	}

	if !g.cfg.Signatures.Verify(auth, proof.Signature, g.cfg.Domain) {
		return g.deny(routeID, http.StatusForbidden, tollgate.ReasonSignatureInvalid,
			"authorization signature does not recover to owner", nil)
	}

	if proof.TxHash == "" {
		return g.deny(routeID, http.StatusForbidden, tollgate.ReasonMissingTransactionHash,
			"a settlement transaction hash is required", nil)
	}

	switch g.cfg.Discipline {
	case DisciplineAsync:
		return g.grantAsync(routeID, auth, proof.TxHash)
	case DisciplineOptional:
		return g.grantOptional(ctx, routeID, auth, proof.TxHash)
	default:
		return g.grantSync(ctx, routeID, auth, proof.TxHash)
	}
}

// grantSync suspends until the settlement verifier resolves.
func (g *Gate) grantSync(ctx context.Context, routeID string, auth tollgate.PaymentAuthorization, txHash string) Decision {
	result := g.cfg.Verifier.Verify(ctx, txHash, auth)
	if !result.Verified {
		return g.deny(routeID, http.StatusForbidden, result.Reason,
			"settlement verification failed", result.Details)
	}
	if g.cfg.Guard != nil && !g.cfg.Guard.MarkUsed(txHash) {
		return g.deny(routeID, http.StatusForbidden, tollgate.ReasonReplayedTransaction,
			"settlement transaction was already used", nil)
	}
	return granted(&tollgate.VerificationContext{
		Owner:         auth.Owner,
		Value:         auth.Value,
		Authorization: auth,
		TxHash:        txHash,
	})
}

// grantAsync grants immediately on signature success and leaves settlement
// verification to the pool, whose outcome is observed only via logging.
func (g *Gate) grantAsync(routeID string, auth tollgate.PaymentAuthorization, txHash string) Decision {
	if g.cfg.Guard != nil && !g.cfg.Guard.MarkUsed(txHash) {
		return g.deny(routeID, http.StatusForbidden, tollgate.ReasonReplayedTransaction,
			"settlement transaction was already used", nil)
	}
	pending, err := g.cfg.Pool.Submit(auth, txHash)
	if err != nil {
		g.logger.Warn("verification pool rejected submission", "route", routeID, "tx_hash", txHash, "error", err)
		return g.deny(routeID, http.StatusServiceUnavailable, tollgate.ReasonQueueSaturated,
			"background verification is saturated, retry shortly", nil)
	}
	return granted(&tollgate.VerificationContext{
		Owner:         auth.Owner,
		Value:         auth.Value,
		Authorization: auth,
		TxHash:        txHash,
		Async:         true,
		Pending:       pending,
	})
}

// grantOptional runs the same settlement check as the sync discipline but
// only logs failures.
func (g *Gate) grantOptional(ctx context.Context, routeID string, auth tollgate.PaymentAuthorization, txHash string) Decision {
	result := g.cfg.Verifier.Verify(ctx, txHash, auth)
	if !result.Verified {
		g.logger.Warn("advisory settlement verification failed",
			"route", routeID, "tx_hash", txHash, "owner", auth.Owner, "reason", result.Reason)
		return Decision{Allow: true}
	}
	if g.cfg.Guard != nil && !g.cfg.Guard.MarkUsed(txHash) {
		g.logger.Warn("advisory proof reused a settlement transaction",
			"route", routeID, "tx_hash", txHash, "owner", auth.Owner)
		return Decision{Allow: true}
	}
	return granted(&tollgate.VerificationContext{
		Owner:         auth.Owner,
		Value:         auth.Value,
		Authorization: auth,
		TxHash:        txHash,
	})
}

// deny terminates the request with the given reason, except under the
// optional discipline where failures are logged and waved through.
func (g *Gate) deny(routeID string, status int, reason, message string, details map[string]interface{}) Decision {
	if g.cfg.Discipline == DisciplineOptional {
		g.logger.Warn("advisory payment proof rejected",
			"route", routeID, "reason", reason, "message", message)
		return Decision{Allow: true}
	}
	return Decision{
		Status: status,
		Body:   tollgate.NewPaymentError(reason, message, details),
	}
}

func granted(vc *tollgate.VerificationContext) Decision {
	return Decision{Allow: true, Context: vc}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
