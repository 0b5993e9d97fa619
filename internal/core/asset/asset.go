// Package asset contains the naming and validation rules for Asset records.
// This is part of the Functional Core - all functions are pure with no I/O.
package asset

// =============================================================================
// Asset Type
// =============================================================================

// Type is the category of an asset.
type Type string

const (
	TypeFiat      Type = "Fiat"
	TypeCrypto    Type = "Crypto"
	TypeCommodity Type = "Commodity"
)

// Known reports whether the type is one of the handled categories.
// Unknown types are not rejected; the rules simply leave them alone.
func (t Type) Known() bool {
	switch t {
	case TypeFiat, TypeCrypto, TypeCommodity:
		return true
	default:
		return false
	}
}

// Types returns the handled categories in display order.
func Types() []Type {
	return []Type{TypeFiat, TypeCrypto, TypeCommodity}
}

// =============================================================================
// Asset
// =============================================================================

// Asset holds the fields the rules read and write.
// An empty string means the field is absent.
type Asset struct {
	Type          Type
	Currency      string
	CommodityName string
	AssetCode     string
}

// =============================================================================
// Naming
// =============================================================================

// ProposeCode fills AssetCode before the record receives its identifier.
//
// The rules are:
//   - Fiat with a currency: AssetCode becomes the currency
//   - Commodity with a commodity name: AssetCode becomes the commodity name
//   - Anything else: AssetCode is left unchanged
//
// ProposeCode never fails and is idempotent.
//
// Example:
//
//	a := &Asset{Type: TypeFiat, Currency: "USD"}
//	ProposeCode(a) // a.AssetCode == "USD"
func ProposeCode(a *Asset) {
	switch {
	case a.Type == TypeFiat && a.Currency != "":
		a.AssetCode = a.Currency
	case a.Type == TypeCommodity && a.CommodityName != "":
		a.AssetCode = a.CommodityName
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate enforces the category rules before a record is saved and
// normalizes the derived fields. It returns a *ValidationError when the
// save must be aborted.
//
// Fiat and Commodity check before mutating, so a failure leaves the asset
// untouched. Crypto always clears Currency, then requires AssetCode.
func Validate(a *Asset) error {
	switch a.Type {
	case TypeFiat:
		if a.Currency == "" {
			return newValidationError("currency", MsgFiatCurrencyRequired)
		}
		a.AssetCode = a.Currency

	case TypeCrypto:
		a.Currency = ""
		if a.AssetCode == "" {
			return newValidationError("asset_code", MsgCryptoCodeRequired)
		}

	case TypeCommodity:
		if a.CommodityName == "" {
			return newValidationError("commodity_name", MsgCommodityNameRequired)
		}
		a.AssetCode = a.CommodityName
		a.Currency = ""
	}
	return nil
}
