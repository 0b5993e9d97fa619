package asset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Type Tests
// =============================================================================

func TestType_Known(t *testing.T) {
	for _, typ := range Types() {
		assert.True(t, typ.Known(), typ)
	}
	assert.False(t, Type("Stock").Known())
	assert.False(t, Type("fiat").Known())
	assert.False(t, Type("").Known())
}

// =============================================================================
// ProposeCode Tests
// =============================================================================

func TestProposeCode_FiatUsesCurrency(t *testing.T) {
	a := &Asset{Type: TypeFiat, Currency: "USD"}
	ProposeCode(a)
	assert.Equal(t, "USD", a.AssetCode)
}

func TestProposeCode_FiatWithoutCurrency(t *testing.T) {
	a := &Asset{Type: TypeFiat, AssetCode: "keep"}
	ProposeCode(a)
	assert.Equal(t, "keep", a.AssetCode)
}

func TestProposeCode_CommodityUsesName(t *testing.T) {
	a := &Asset{Type: TypeCommodity, CommodityName: "Gold"}
	ProposeCode(a)
	assert.Equal(t, "Gold", a.AssetCode)
}

func TestProposeCode_CommodityWithoutName(t *testing.T) {
	a := &Asset{Type: TypeCommodity}
	ProposeCode(a)
	assert.Equal(t, "", a.AssetCode)
}

func TestProposeCode_CryptoUnchanged(t *testing.T) {
	a := &Asset{Type: TypeCrypto, Currency: "USD", AssetCode: "BTC"}
	ProposeCode(a)
	assert.Equal(t, "BTC", a.AssetCode)
	assert.Equal(t, "USD", a.Currency)
}

func TestProposeCode_UnknownTypeUnchanged(t *testing.T) {
	a := &Asset{Type: "Stock", Currency: "USD", CommodityName: "Gold", AssetCode: "AAPL"}
	ProposeCode(a)
	assert.Equal(t, Asset{Type: "Stock", Currency: "USD", CommodityName: "Gold", AssetCode: "AAPL"}, *a)
}

func TestProposeCode_Idempotent(t *testing.T) {
	cases := []Asset{
		{Type: TypeFiat, Currency: "EUR"},
		{Type: TypeCommodity, CommodityName: "Silver"},
		{Type: TypeCrypto, AssetCode: "ETH"},
		{Type: "Other"},
	}
	for _, c := range cases {
		once := c
		ProposeCode(&once)

		twice := c
		ProposeCode(&twice)
		ProposeCode(&twice)

		assert.Equal(t, once, twice)
	}
}

// =============================================================================
// Validate Tests - Fiat
// =============================================================================

func TestValidate_FiatSetsAssetCode(t *testing.T) {
	a := &Asset{Type: TypeFiat, Currency: "USD", AssetCode: "stale"}
	require.NoError(t, Validate(a))
	assert.Equal(t, "USD", a.AssetCode)
	assert.Equal(t, "USD", a.Currency)
}

func TestValidate_FiatRequiresCurrency(t *testing.T) {
	a := &Asset{Type: TypeFiat, CommodityName: "x", AssetCode: "old"}
	before := *a

	err := Validate(a)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, MsgFiatCurrencyRequired, reason)
	assert.Equal(t, before, *a, "failed validation must not mutate")
}

// =============================================================================
// Validate Tests - Crypto
// =============================================================================

func TestValidate_CryptoClearsCurrency(t *testing.T) {
	a := &Asset{Type: TypeCrypto, AssetCode: "BTC", Currency: "USD"}
	require.NoError(t, Validate(a))
	assert.Equal(t, Asset{Type: TypeCrypto, AssetCode: "BTC"}, *a)
}

func TestValidate_CryptoRequiresAssetCode(t *testing.T) {
	a := &Asset{Type: TypeCrypto, Currency: "USD"}

	err := Validate(a)
	require.Error(t, err)
	reason, ok := Reason(err)
	require.True(t, ok)
	assert.Equal(t, MsgCryptoCodeRequired, reason)
	assert.Equal(t, "", a.Currency, "currency is cleared before the check")
}

// =============================================================================
// Validate Tests - Commodity
// =============================================================================

func TestValidate_CommoditySetsAssetCode(t *testing.T) {
	a := &Asset{Type: TypeCommodity, CommodityName: "Gold", Currency: "USD"}
	require.NoError(t, Validate(a))
	assert.Equal(t, "Gold", a.AssetCode)
	assert.Equal(t, "", a.Currency)
}

func TestValidate_CommodityRequiresName(t *testing.T) {
	a := &Asset{Type: TypeCommodity, CommodityName: "", AssetCode: "prev", Currency: "USD"}

	err := Validate(a)
	require.Error(t, err)
	reason, _ := Reason(err)
	assert.Equal(t, MsgCommodityNameRequired, reason)
	assert.Equal(t, "prev", a.AssetCode)
	assert.Equal(t, "USD", a.Currency)
}

// =============================================================================
// Validate Tests - Other
// =============================================================================

func TestValidate_UnknownTypePassesThrough(t *testing.T) {
	a := &Asset{Type: "Bond", Currency: "USD"}
	require.NoError(t, Validate(a))
	assert.Equal(t, Asset{Type: "Bond", Currency: "USD"}, *a)
}

func TestValidate_EmptyTypePassesThrough(t *testing.T) {
	a := &Asset{}
	require.NoError(t, Validate(a))
	assert.Equal(t, Asset{}, *a)
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestScenario_FiatUSD(t *testing.T) {
	a := &Asset{Type: TypeFiat, Currency: "USD"}
	ProposeCode(a)
	assert.Equal(t, "USD", a.AssetCode)
	require.NoError(t, Validate(a))
	assert.Equal(t, "USD", a.AssetCode)
}

func TestScenario_CommodityGold(t *testing.T) {
	a := &Asset{Type: TypeCommodity, CommodityName: "Gold"}
	ProposeCode(a)
	assert.Equal(t, "Gold", a.AssetCode)
	require.NoError(t, Validate(a))
	assert.Equal(t, Asset{Type: TypeCommodity, CommodityName: "Gold", AssetCode: "Gold"}, *a)
}

// =============================================================================
// Error Tests
// =============================================================================

func TestValidationError_Message(t *testing.T) {
	err := newValidationError("currency", MsgFiatCurrencyRequired)
	assert.Equal(t, "currency: Select a Currency for a Fiat asset", err.Error())
}

func TestReason_NotValidationError(t *testing.T) {
	_, ok := Reason(errors.New("boom"))
	assert.False(t, ok)
}
