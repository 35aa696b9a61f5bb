package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// ExistingClientNames reports which of the given names already have a
// client row.
func (s *Store) ExistingClientNames(ctx context.Context, names []string) (map[string]bool, error) {
	return s.existingKeys(ctx, `SELECT name FROM clients WHERE name = ANY($1)`, names)
}

// ExistingAccountNumbers reports which account numbers already exist.
func (s *Store) ExistingAccountNumbers(ctx context.Context, numbers []string) (map[string]bool, error) {
	return s.existingKeys(ctx, `SELECT account_number FROM accounts WHERE account_number = ANY($1)`, numbers)
}

// ExistingGoalNumbers reports which goal numbers already exist.
func (s *Store) ExistingGoalNumbers(ctx context.Context, numbers []string) (map[string]bool, error) {
	return s.existingKeys(ctx, `SELECT goal_number FROM goals WHERE goal_number = ANY($1)`, numbers)
}

func (s *Store) existingKeys(ctx context.Context, query string, keys []string) (map[string]bool, error) {
	found := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		found[k] = true
	}
	return found, rows.Err()
}

// EnsureClient inserts the client if missing and returns its id either way.
func (s *Store) EnsureClient(ctx context.Context, c model.Client) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clients (id, name, status, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		c.ID, c.Name, model.StatusActive).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to ensure client %q: %w", c.Name, err)
	}
	return id, nil
}

// EnsureAccount inserts the account if missing and returns its id.
func (s *Store) EnsureAccount(ctx context.Context, a model.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, client_id, account_number, account_type, account_category, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (account_number) DO UPDATE SET account_number = EXCLUDED.account_number
		RETURNING id`,
		a.ID, a.ClientID, a.AccountNumber, a.Type, a.Category, model.StatusActive).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to ensure account %q: %w", a.AccountNumber, err)
	}
	return id, nil
}

// EnsureGoal inserts the goal if missing and returns its id.
func (s *Store) EnsureGoal(ctx context.Context, g model.Goal) (string, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO goals (id, account_id, goal_number, title, goal_type, risk_tolerance,
			xummf_pct, xubf_pct, xudef_pct, xuref_pct, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (goal_number) DO UPDATE SET goal_number = EXCLUDED.goal_number
		RETURNING id`,
		g.ID, g.AccountID, g.GoalNumber, g.Title, g.Type, g.RiskTolerance,
		distPct(g.FundDistribution, model.FundXUMMF),
		distPct(g.FundDistribution, model.FundXUBF),
		distPct(g.FundDistribution, model.FundXUDEF),
		distPct(g.FundDistribution, model.FundXUREF),
		model.StatusActive).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to ensure goal %q: %w", g.GoalNumber, err)
	}
	return id, nil
}

func distPct(dist map[model.FundCode]decimal.Decimal, code model.FundCode) decimal.Decimal {
	if dist == nil {
		return decimal.Zero
	}
	return dist[code]
}

// GoalRef resolves a goal number to the ids needed for bank-row linking.
type GoalRef struct {
	GoalID    string
	AccountID string
	ClientID  string
}

// GoalRefsByNumber resolves goal numbers to their goal, account, and
// client ids in one round-trip.
func (s *Store) GoalRefsByNumber(ctx context.Context, numbers []string) (map[string]GoalRef, error) {
	out := make(map[string]GoalRef, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT g.goal_number, g.id, a.id, a.client_id
		FROM goals g
		JOIN accounts a ON a.id = g.account_id
		WHERE g.goal_number = ANY($1)`, numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve goal numbers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var number string
		var ref GoalRef
		if err := rows.Scan(&number, &ref.GoalID, &ref.AccountID, &ref.ClientID); err != nil {
			return nil, fmt.Errorf("failed to scan goal ref: %w", err)
		}
		out[number] = ref
	}
	return out, rows.Err()
}

// GoalDistribution returns a goal's stored fund distribution, or nil when
// the goal is unknown.
func (s *Store) GoalDistribution(ctx context.Context, goalNumber string) (map[model.FundCode]decimal.Decimal, error) {
	var xummf, xubf, xudef, xuref decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT xummf_pct, xubf_pct, xudef_pct, xuref_pct
		FROM goals WHERE goal_number = $1`, goalNumber).
		Scan(&xummf, &xubf, &xudef, &xuref)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal distribution: %w", err)
	}
	return map[model.FundCode]decimal.Decimal{
		model.FundXUMMF: xummf,
		model.FundXUBF:  xubf,
		model.FundXUDEF: xudef,
		model.FundXUREF: xuref,
	}, nil
}
