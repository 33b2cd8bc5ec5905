package echo

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tollgate "github.com/tollgate-protocol/tollgate-go"
	"github.com/tollgate-protocol/tollgate-go/evm"
	tollgatehttp "github.com/tollgate-protocol/tollgate-go/http"
)

const (
	testRoute     = "/api/forecast"
	testPrice     = "10000"
	testRecipient = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func testDomain() tollgate.Domain {
	return tollgate.Domain{
		Name:              "TollGate",
		Version:           "1",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x1111111111111111111111111111111111111111",
	}
}

type stubSettlement struct {
	result tollgate.VerifyResult
}

func (s *stubSettlement) Verify(ctx context.Context, txHash string, expected tollgate.PaymentAuthorization) tollgate.VerifyResult {
	return s.result
}

func newTestGate(t *testing.T, verifier tollgate.SettlementVerifier) *tollgatehttp.Gate {
	t.Helper()
	routes := tollgate.NewRouteTable(tollgate.Route{Price: "1", Recipient: testRecipient}).
		Set(testRoute, tollgate.Route{Price: testPrice, Recipient: testRecipient})
	gate, err := tollgatehttp.NewGate(tollgatehttp.GateConfig{
		Routes:   routes,
		Domain:   testDomain(),
		Token:    "0xcccccccccccccccccccccccccccccccccccccccc",
		Verifier: verifier,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return gate
}

func signedHeader(t *testing.T, key *ecdsa.PrivateKey) string {
	t.Helper()
	owner := crypto.PubkeyToAddress(key.PublicKey)
	auth := tollgate.PaymentAuthorization{
		Owner:     owner.Hex(),
		Recipient: testRecipient,
		Value:     testPrice,
		Deadline:  "9999999999",
		Nonce:     "0x" + strings.Repeat("ab", 32),
	}
	digest, err := evm.HashPaymentAuthorization(auth, testDomain())
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	header, err := tollgatehttp.EncodeProofHeader(tollgate.Proof{
		Authorization: auth,
		Signature:     "0x" + hex.EncodeToString(sig),
		TxHash:        "0x" + strings.Repeat("42", 32),
	})
	require.NoError(t, err)
	return header
}

func newServer(t *testing.T, gate *tollgatehttp.Gate) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(PaymentMiddleware(gate))
	e.GET(testRoute, func(c echo.Context) error {
		payment, ok := c.Get(PaymentContextKey).(*tollgate.VerificationContext)
		require.True(t, ok)
		return c.JSON(http.StatusOK, map[string]string{"payer": payment.Owner})
	})
	return e
}

func TestEchoMiddlewareIssuesChallenge(t *testing.T) {
	server := newServer(t, newTestGate(t, &stubSettlement{}))

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, testRoute, nil))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	var challenge tollgate.PaymentChallenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	assert.Equal(t, testRoute, challenge.RouteID)
	assert.Equal(t, testPrice, challenge.Authorization.Value)
}

func TestEchoMiddlewareDeniesUnverifiedSettlement(t *testing.T) {
	verifier := &stubSettlement{result: tollgate.VerifyResult{Reason: tollgate.ReasonTransactionFailed}}
	server := newServer(t, newTestGate(t, verifier))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, testRoute, nil)
	req.Header.Set(tollgatehttp.PaymentHeader, signedHeader(t, key))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var perr tollgate.PaymentError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perr))
	assert.Equal(t, tollgate.ReasonTransactionFailed, perr.Code)
}

func TestEchoMiddlewareGrantsAndExposesContext(t *testing.T) {
	verifier := &stubSettlement{result: tollgate.VerifyResult{Verified: true, Confirmations: 1}}
	server := newServer(t, newTestGate(t, verifier))
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(key.PublicKey)

	req := httptest.NewRequest(http.MethodGet, testRoute, nil)
	req.Header.Set(tollgatehttp.PaymentHeader, signedHeader(t, key))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, owner.Hex(), body["payer"])
}
