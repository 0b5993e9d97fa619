package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/artpar/assetbook/internal/core/asset"
	"github.com/google/uuid"
)

// Command names dispatched by resources.
const (
	CmdAssetSaved = "AssetSaved"
)

// RegisterHandlers registers all command handlers on the bus.
func RegisterHandlers(bus *Bus) {
	bus.Register(CmdAssetSaved, assetSaved)
}

// assetSaved appends an audit row for a committed asset save.
func assetSaved(ctx context.Context, deps *Deps, data map[string]any) error {
	refID := strVal(data["reference_id"])
	if refID == "" {
		return fmt.Errorf("asset saved without reference_id")
	}

	action := strVal(data["_action"])
	if action == "" {
		action = "update"
	}

	_, err := deps.Store.RawExec(ctx,
		`INSERT INTO asset_events (reference_id, asset_id, action, asset_type, asset_code, currency, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"evt_"+uuid.New().String()[:8],
		refID,
		action,
		strVal(data["type"]),
		nullable(strVal(data["asset_code"])),
		nullable(strVal(data["currency"])),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record asset event: %w", err)
	}

	if typ := asset.Type(strVal(data["type"])); !typ.Known() {
		deps.Logger.Debug("asset saved with unhandled type", "asset", refID, "type", string(typ))
	}

	deps.Logger.Debug("asset saved",
		"asset", refID,
		"action", action,
		"asset_code", strVal(data["asset_code"]),
	)
	return nil
}

// AssetEvent is one audit entry written by the AssetSaved handler.
type AssetEvent struct {
	ReferenceID string  `db:"reference_id"`
	AssetID     string  `db:"asset_id"`
	Action      string  `db:"action"`
	AssetType   string  `db:"asset_type"`
	AssetCode   *string `db:"asset_code"`
	Currency    *string `db:"currency"`
	Timestamp   string  `db:"timestamp"`
}

// ListAssetEvents returns the audit trail of an asset, oldest first.
func (s *Store) ListAssetEvents(ctx context.Context, assetID string) ([]AssetEvent, error) {
	var events []AssetEvent
	err := s.db.SelectContext(ctx, &events,
		`SELECT reference_id, asset_id, action, asset_type, asset_code, currency, timestamp
		 FROM asset_events WHERE asset_id = ? ORDER BY id ASC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list asset events: %w", err)
	}
	return events, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
