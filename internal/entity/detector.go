// Package entity finds clients, accounts and goals referenced by an upload
// but missing from the master data, and materialises them once an operator
// approves the batch.
package entity

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/txcode"
)

// MasterLookup answers existence queries against the master tables.
type MasterLookup interface {
	ExistingClientNames(ctx context.Context, names []string) (map[string]bool, error)
	ExistingAccountNumbers(ctx context.Context, numbers []string) (map[string]bool, error)
	ExistingGoalNumbers(ctx context.Context, numbers []string) (map[string]bool, error)
}

// Detector diffs an upload's entities against the master data.
type Detector struct {
	lookup MasterLookup
}

// NewDetector builds a Detector over the given lookup.
func NewDetector(lookup MasterLookup) *Detector {
	return &Detector{lookup: lookup}
}

// Detect computes the approval report for the valid rows of one upload.
// Summaries are ordered by key for stable report output.
func (d *Detector) Detect(ctx context.Context, rows []*ingest.FundRow) (*model.NewEntitiesReport, error) {
	clientRows := map[string][]*ingest.FundRow{}
	accountRows := map[string][]*ingest.FundRow{}
	goalRows := map[string][]*ingest.FundRow{}
	for _, row := range rows {
		clientRows[row.ClientName] = append(clientRows[row.ClientName], row)
		accountRows[row.AccountNumber] = append(accountRows[row.AccountNumber], row)
		goalRows[row.GoalNumber] = append(goalRows[row.GoalNumber], row)
	}

	existingClients, err := d.lookup.ExistingClientNames(ctx, keys(clientRows))
	if err != nil {
		return nil, fmt.Errorf("failed to look up clients: %w", err)
	}
	existingAccounts, err := d.lookup.ExistingAccountNumbers(ctx, keys(accountRows))
	if err != nil {
		return nil, fmt.Errorf("failed to look up accounts: %w", err)
	}
	existingGoals, err := d.lookup.ExistingGoalNumbers(ctx, keys(goalRows))
	if err != nil {
		return nil, fmt.Errorf("failed to look up goals: %w", err)
	}

	report := &model.NewEntitiesReport{}
	for _, name := range sortedKeys(clientRows) {
		if existingClients[name] {
			continue
		}
		s := summarize(name, clientRows[name])
		report.Clients = append(report.Clients, s)
	}
	for _, number := range sortedKeys(accountRows) {
		if existingAccounts[number] {
			continue
		}
		s := summarize(number, accountRows[number])
		s.ClientName = accountRows[number][0].ClientName
		report.Accounts = append(report.Accounts, s)
	}
	for _, number := range sortedKeys(goalRows) {
		if existingGoals[number] {
			continue
		}
		s := summarize(number, goalRows[number])
		s.AccountNumber = goalRows[number][0].AccountNumber
		s.GoalTitle = goalRows[number][0].GoalTitle
		s.FundDistribution = DeriveDistribution(goalRows[number])
		report.Goals = append(report.Goals, s)
	}
	return report, nil
}

func summarize(key string, rows []*ingest.FundRow) model.NewEntitySummary {
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return model.NewEntitySummary{
		Key:              key,
		TransactionCount: len(rows),
		TotalAmount:      total,
	}
}

// DeriveDistribution computes a goal's fund distribution from its observed
// transactions: the most frequent per-group distribution signature wins,
// falling back to an equal split across the funds that appear at all.
func DeriveDistribution(rows []*ingest.FundRow) map[model.FundCode]decimal.Decimal {
	groups, order := txcode.GroupByCode(rows)

	type signature struct {
		key  string
		dist map[model.FundCode]decimal.Decimal
	}
	counts := map[string]int{}
	signatures := map[string]map[model.FundCode]decimal.Decimal{}
	for _, code := range order {
		dist := groupDistribution(groups[code])
		if dist == nil {
			continue
		}
		key := distributionKey(dist)
		counts[key]++
		signatures[key] = dist
	}

	var best signature
	bestCount := 0
	for key, count := range counts {
		// Ties break lexically on the signature for determinism.
		if count > bestCount || (count == bestCount && key < best.key) {
			best = signature{key: key, dist: signatures[key]}
			bestCount = count
		}
	}
	if bestCount > 0 {
		return best.dist
	}

	// All groups had zero totals: split equally across observed funds.
	observed := map[model.FundCode]bool{}
	for _, r := range rows {
		if model.IsValidFundCode(r.FundCode) {
			observed[model.FundCode(r.FundCode)] = true
		}
	}
	if len(observed) == 0 {
		return nil
	}
	share := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(observed)))).Round(4)
	dist := make(map[model.FundCode]decimal.Decimal, len(observed))
	for fc := range observed {
		dist[fc] = share
	}
	return dist
}

// groupDistribution returns the per-fund share of one goal transaction,
// rounded to whole percents, or nil when the group total is zero.
func groupDistribution(rows []*ingest.FundRow) map[model.FundCode]decimal.Decimal {
	total := decimal.Zero
	perFund := map[model.FundCode]decimal.Decimal{}
	for _, r := range rows {
		if !model.IsValidFundCode(r.FundCode) {
			continue
		}
		total = total.Add(r.Amount)
		fc := model.FundCode(r.FundCode)
		perFund[fc] = perFund[fc].Add(r.Amount)
	}
	if total.IsZero() {
		return nil
	}
	dist := make(map[model.FundCode]decimal.Decimal, len(perFund))
	for fc, amount := range perFund {
		dist[fc] = amount.Div(total).Round(2)
	}
	return dist
}

func distributionKey(dist map[model.FundCode]decimal.Decimal) string {
	parts := make([]string, 0, len(dist))
	for _, fc := range model.AllFundCodes {
		if share, ok := dist[fc]; ok {
			parts = append(parts, string(fc)+"="+share.String())
		}
	}
	return fmt.Sprint(parts)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := keys(m)
	sort.Strings(out)
	return out
}
