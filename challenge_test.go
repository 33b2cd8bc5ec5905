package tollgate

import (
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDomain() Domain {
	return Domain{
		Name:              "TollGate",
		Version:           "1",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x1111111111111111111111111111111111111111",
	}
}

func testRoutes() *RouteTable {
	return NewRouteTable(Route{Price: "10000", Recipient: "0x2222222222222222222222222222222222222222"}).
		Set("/premium", Route{Price: "50000", Recipient: "0x3333333333333333333333333333333333333333"})
}

func TestNewChallengeDefaults(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	builder, err := NewChallengeBuilder(testRoutes(), testDomain(), "0x4444444444444444444444444444444444444444",
		WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	challenge, err := builder.NewChallenge("/api/data", "")
	require.NoError(t, err)

	assert.Equal(t, ReasonPaymentRequired, challenge.Error)
	assert.Equal(t, "/api/data", challenge.RouteID)
	assert.Equal(t, "84532", challenge.ChainID)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", challenge.SettlementContract)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", challenge.Token)

	auth := challenge.Authorization
	assert.Equal(t, ZeroAddress, auth.Owner)
	assert.Equal(t, "10000", auth.Value)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", auth.Recipient)
	assert.Equal(t, strconv.FormatInt(fixed.Add(10*time.Minute).Unix(), 10), auth.Deadline)

	nonce, err := auth.NonceBytes()
	require.NoError(t, err)
	assert.NotEqual(t, [32]byte{}, nonce)
}

func TestNewChallengeFreshNoncePerCall(t *testing.T) {
	builder, err := NewChallengeBuilder(testRoutes(), testDomain(), "0x4444444444444444444444444444444444444444")
	require.NoError(t, err)

	first, err := builder.NewChallenge("/api/data", "")
	require.NoError(t, err)
	second, err := builder.NewChallenge("/api/data", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.Authorization.Nonce, second.Authorization.Nonce)
}

func TestNewChallengeDeclaredOwner(t *testing.T) {
	builder, err := NewChallengeBuilder(testRoutes(), testDomain(), "0x4444444444444444444444444444444444444444")
	require.NoError(t, err)

	challenge, err := builder.NewChallenge("/premium", "0x5555555555555555555555555555555555555555")
	require.NoError(t, err)

	assert.Equal(t, "0x5555555555555555555555555555555555555555", challenge.Authorization.Owner)
	assert.Equal(t, "50000", challenge.Authorization.Value)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", challenge.Authorization.Recipient)
}

func TestNewChallengeTypeDescriptorForcesSpender(t *testing.T) {
	builder, err := NewChallengeBuilder(testRoutes(), testDomain(), "0x4444444444444444444444444444444444444444")
	require.NoError(t, err)

	challenge, err := builder.NewChallenge("/api/data", "")
	require.NoError(t, err)

	fields, ok := challenge.Types[PrimaryType]
	require.True(t, ok)
	var hasSpender bool
	for _, field := range fields {
		if field.Name == "spender" {
			hasSpender = true
			assert.Equal(t, "address", field.Type)
		}
	}
	assert.True(t, hasSpender, "type descriptor must include the forced spender field")
}

func TestNewChallengeBuilderValidation(t *testing.T) {
	_, err := NewChallengeBuilder(nil, testDomain(), "0x44")
	assert.Error(t, err)

	domain := testDomain()
	domain.ChainID = nil
	_, err = NewChallengeBuilder(testRoutes(), domain, "0x44")
	assert.Error(t, err)
}
