package asset

import "fmt"

// Column names used by the assets resource.
const (
	FieldType          = "type"
	FieldCurrency      = "currency"
	FieldCommodityName = "commodity_name"
	FieldAssetCode     = "asset_code"
)

// FromRow builds an Asset from a record row. Missing and nil values are
// treated as absent.
func FromRow(row map[string]any) Asset {
	return Asset{
		Type:          Type(str(row[FieldType])),
		Currency:      str(row[FieldCurrency]),
		CommodityName: str(row[FieldCommodityName]),
		AssetCode:     str(row[FieldAssetCode]),
	}
}

// WriteChanges copies the fields that differ between before and after back
// into row. Cleared fields are written as nil so they persist as NULL.
func WriteChanges(row map[string]any, before, after Asset) {
	set := func(field, old, val string) {
		if old == val {
			return
		}
		if val == "" {
			row[field] = nil
			return
		}
		row[field] = val
	}
	set(FieldCurrency, before.Currency, after.Currency)
	set(FieldCommodityName, before.CommodityName, after.CommodityName)
	set(FieldAssetCode, before.AssetCode, after.AssetCode)
}

func str(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
