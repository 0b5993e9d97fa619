package engine

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

//go:embed seed/currencies.yaml
var currencySeed []byte

// SeedCurrency is one entry of the currency fixture.
type SeedCurrency struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
}

// ParseCurrencySeed decodes a currency fixture document.
func ParseCurrencySeed(data []byte) ([]SeedCurrency, error) {
	var doc struct {
		Currencies []SeedCurrency `yaml:"currencies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse currency seed: %w", err)
	}
	for i, c := range doc.Currencies {
		if c.Code == "" {
			return nil, fmt.Errorf("parse currency seed: entry %d has no code", i)
		}
	}
	return doc.Currencies, nil
}

// SeedCurrencies fills the currencies table from the embedded fixture
// when it is empty.
func SeedCurrencies(store *Store, logger *slog.Logger) error {
	if store.Resource("currencies") == nil {
		return nil
	}

	ctx := context.Background()
	count, err := store.Count(ctx, "currencies", nil)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	currencies, err := ParseCurrencySeed(currencySeed)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	err = store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, c := range currencies {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO currencies (reference_id, code, name, symbol, enabled, created_at, updated_at)
				 VALUES (?, ?, ?, ?, 1, ?, ?)`,
				c.Code, c.Code, c.Name, c.Symbol, now, now)
			if err != nil {
				return fmt.Errorf("insert currency %s: %w", c.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info("seeded currencies", "count", len(currencies))
	return nil
}
