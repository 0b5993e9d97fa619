package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/assetbook/internal/core/asset"
)

// Schema returns all resource definitions for the application.
// Tables, routes and the OpenAPI document are all derived from it.
func Schema() []Resource {
	return []Resource{
		CurrencyResource(),
		AssetResource(),
	}
}

func CurrencyResource() Resource {
	return Resource{
		Name:       "currencies",
		RefPrefix:  "cur_",
		NameField:  "code",
		PublicRead: true,
		Fields: []Field{
			StringField("code").WithRequired().WithUnique().WithPattern(`^[A-Z]{3}$`),
			StringField("name").WithRequired().WithMaxLen(100),
			StringField("symbol").WithNullable().WithMaxLen(8),
			BoolField("enabled").WithDefault(true),
		},
	}
}

func AssetResource() Resource {
	return Resource{
		Name:       "assets",
		RefPrefix:  "ast_",
		Owner:      "creator_id",
		NameField:  asset.FieldAssetCode,
		PublicRead: true,
		Fields: []Field{
			StringField(asset.FieldType).WithRequired().WithMaxLen(32).WithDescription(assetTypeDescription()),
			LinkField(asset.FieldCurrency, "currencies", "code"),
			StringField(asset.FieldCommodityName).WithNullable().WithMaxLen(140),
			StringField(asset.FieldAssetCode).WithNullable().WithUnique().WithMaxLen(140),
			StringField("asset_name").WithNullable().WithMaxLen(255),
			BoolField("is_active").WithDefault(false),
			BoolField("is_convertible").WithDefault(false),
			RefField("creator_id", "users").WithNullable().WithInternal(),
		},
		Autoname: assetAutoname,
		Validate: assetValidate,
		OnSave:   CmdAssetSaved,
	}
}

// =============================================================================
// Asset hooks
// =============================================================================

// assetTypeDescription lists the handled types. Other values are stored as is.
func assetTypeDescription() string {
	names := make([]string, 0, len(asset.Types()))
	for _, t := range asset.Types() {
		names = append(names, string(t))
	}
	return "one of " + strings.Join(names, ", ") + "; other types are stored without naming or validation rules"
}

// assetAutoname proposes asset_code before the identifier is assigned.
func assetAutoname(_ context.Context, data map[string]any) {
	before := asset.FromRow(data)
	after := before
	asset.ProposeCode(&after)
	asset.WriteChanges(data, before, after)
}

// assetValidate applies the category rules on every save.
func assetValidate(_ context.Context, data map[string]any) error {
	before := asset.FromRow(data)
	after := before
	err := asset.Validate(&after)
	asset.WriteChanges(data, before, after)
	return err
}

// =============================================================================
// Currency hooks
// =============================================================================

// bindHooks attaches hooks that need the store.
func bindHooks(store *Store) {
	if res := store.Resource("currencies"); res != nil {
		res.BeforeUpdate = currencyBeforeUpdate(store)
		res.BeforeDelete = currencyBeforeDelete(store)
	}
}

// currencyInUse fails with ErrConflict when assets reference code.
func currencyInUse(ctx context.Context, store *Store, code string) error {
	n, err := store.Count(ctx, "assets", []Filter{{Field: asset.FieldCurrency, Value: code}})
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: currency %s is used by %d asset(s)", ErrConflict, code, n)
	}
	return nil
}

// currencyBeforeUpdate keeps the code of a currency that assets still use.
func currencyBeforeUpdate(store *Store) BeforeUpdateFunc {
	return func(ctx context.Context, existing, merged map[string]any) error {
		code := strVal(existing["code"])
		if strVal(merged["code"]) == code {
			return nil
		}
		return currencyInUse(ctx, store, code)
	}
}

// currencyBeforeDelete refuses to delete a currency that assets still use.
func currencyBeforeDelete(store *Store) BeforeDeleteFunc {
	return func(ctx context.Context, _ AuthContext, row map[string]any) error {
		return currencyInUse(ctx, store, strVal(row["code"]))
	}
}
