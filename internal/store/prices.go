package store

import (
	"context"
	"fmt"
	"time"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// UpsertFundPrice records a daily price, replacing any earlier row for the
// same fund and day.
func (s *Store) UpsertFundPrice(ctx context.Context, p model.FundPrice) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fund_prices (fund_id, price_date, bid, mid, offer)
		SELECT f.id, $2, $3, $4, $5 FROM funds f WHERE f.fund_code = $1
		ON CONFLICT (fund_id, price_date) DO UPDATE
		SET bid = EXCLUDED.bid, mid = EXCLUDED.mid, offer = EXCLUDED.offer`,
		p.FundCode, p.PriceDate, p.Bid, p.Mid, p.Offer)
	if err != nil {
		return fmt.Errorf("failed to upsert price for %s: %w", p.FundCode, err)
	}
	return nil
}

// LatestFundPrices returns the newest price row per fund.
func (s *Store) LatestFundPrices(ctx context.Context) (map[model.FundCode]model.FundPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (fp.fund_id)
			fp.fund_id, f.fund_code, fp.price_date, fp.bid, fp.mid, fp.offer
		FROM fund_prices fp
		JOIN funds f ON f.id = fp.fund_id
		ORDER BY fp.fund_id, fp.price_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest fund prices: %w", err)
	}
	defer rows.Close()

	out := make(map[model.FundCode]model.FundPrice, len(model.AllFundCodes))
	for rows.Next() {
		var p model.FundPrice
		if err := rows.Scan(&p.FundID, &p.FundCode, &p.PriceDate, &p.Bid, &p.Mid, &p.Offer); err != nil {
			return nil, fmt.Errorf("failed to scan fund price: %w", err)
		}
		out[p.FundCode] = p
	}
	return out, rows.Err()
}

// FundIDsByCode maps the four fund codes to their ids. Funds are seeded by
// the schema, so an incomplete map means a broken installation.
func (s *Store) FundIDsByCode(ctx context.Context) (map[model.FundCode]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT fund_code, id FROM funds`)
	if err != nil {
		return nil, fmt.Errorf("failed to load funds: %w", err)
	}
	defer rows.Close()

	out := make(map[model.FundCode]string, len(model.AllFundCodes))
	for rows.Next() {
		var code model.FundCode
		var id string
		if err := rows.Scan(&code, &id); err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		out[code] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, code := range model.AllFundCodes {
		if _, ok := out[code]; !ok {
			return nil, fmt.Errorf("fund %s is not seeded", code)
		}
	}
	return out, nil
}

// PricesForDate returns each fund's price row effective on the given day:
// the newest row dated on or before it.
func (s *Store) PricesForDate(ctx context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (fp.fund_id)
			fp.fund_id, f.fund_code, fp.price_date, fp.bid, fp.mid, fp.offer
		FROM fund_prices fp
		JOIN funds f ON f.id = fp.fund_id
		WHERE fp.price_date <= $1
		ORDER BY fp.fund_id, fp.price_date DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load prices for %s: %w", date.Format("2006-01-02"), err)
	}
	defer rows.Close()

	out := make(map[model.FundCode]model.FundPrice, len(model.AllFundCodes))
	for rows.Next() {
		var p model.FundPrice
		if err := rows.Scan(&p.FundID, &p.FundCode, &p.PriceDate, &p.Bid, &p.Mid, &p.Offer); err != nil {
			return nil, fmt.Errorf("failed to scan fund price: %w", err)
		}
		out[p.FundCode] = p
	}
	return out, rows.Err()
}
