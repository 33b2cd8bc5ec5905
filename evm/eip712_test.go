package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPaymentAuthorizationDeterministic(t *testing.T) {
	auth := newAuth("0x5555555555555555555555555555555555555555")
	domain := testDomain()

	first, err := HashPaymentAuthorization(auth, domain)
	require.NoError(t, err)
	second, err := HashPaymentAuthorization(auth, domain)
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)
}

func TestHashPaymentAuthorizationBindsSpenderToContract(t *testing.T) {
	auth := newAuth("0x5555555555555555555555555555555555555555")

	domain := testDomain()
	base, err := HashPaymentAuthorization(auth, domain)
	require.NoError(t, err)

	domain.VerifyingContract = "0x9999999999999999999999999999999999999999"
	other, err := HashPaymentAuthorization(auth, domain)
	require.NoError(t, err)

	assert.NotEqual(t, base, other,
		"spender is forced from the verifying contract, so a different contract must change the digest")
}

func TestHashPaymentAuthorizationFieldSensitivity(t *testing.T) {
	domain := testDomain()
	base, err := HashPaymentAuthorization(newAuth("0x5555555555555555555555555555555555555555"), domain)
	require.NoError(t, err)

	changed := newAuth("0x5555555555555555555555555555555555555555")
	changed.Value = "99999"
	digest, err := HashPaymentAuthorization(changed, domain)
	require.NoError(t, err)
	assert.NotEqual(t, base, digest)
}

func TestHashPaymentAuthorizationRejectsMalformedFields(t *testing.T) {
	domain := testDomain()

	bad := newAuth("0x5555555555555555555555555555555555555555")
	bad.Value = "not-a-number"
	_, err := HashPaymentAuthorization(bad, domain)
	assert.Error(t, err)

	bad = newAuth("0x5555555555555555555555555555555555555555")
	bad.Nonce = "0x1234"
	_, err = HashPaymentAuthorization(bad, domain)
	assert.Error(t, err)

	bad = newAuth("0x5555555555555555555555555555555555555555")
	bad.Deadline = "soon"
	_, err = HashPaymentAuthorization(bad, domain)
	assert.Error(t, err)
}
