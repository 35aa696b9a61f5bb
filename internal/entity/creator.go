package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// Defaults applied to goals created from the approval flow. The upload feed
// does not carry these attributes.
const (
	DefaultGoalType          = "other"
	DefaultGoalRiskTolerance = "moderate"
)

// Writer persists master-data entities. Every method tolerates the entity
// already existing and returns its id, so concurrent batches that race on
// the same new client settle on one row.
type Writer interface {
	EnsureClient(ctx context.Context, client model.Client) (string, error)
	EnsureAccount(ctx context.Context, account model.Account) (string, error)
	EnsureGoal(ctx context.Context, goal model.Goal) (string, error)
}

// Creator materialises an approved new-entities report.
type Creator struct {
	writer Writer
	logger *zap.Logger
	now    func() time.Time
}

// NewCreator builds a Creator.
func NewCreator(writer Writer, logger *zap.Logger) *Creator {
	return &Creator{writer: writer, logger: logger, now: time.Now}
}

// CreatedCounts reports how many entities an approval run touched.
type CreatedCounts struct {
	Clients  int `json:"clients"`
	Accounts int `json:"accounts"`
	Goals    int `json:"goals"`
}

// CreateApproved creates clients, then accounts, then goals from the
// report. The call is idempotent: re-running it against the same report
// finds every entity already present and changes nothing.
func (c *Creator) CreateApproved(ctx context.Context, report *model.NewEntitiesReport) (CreatedCounts, error) {
	var counts CreatedCounts
	if report == nil || report.Empty() {
		return counts, nil
	}

	clientIDs := map[string]string{}
	for _, summary := range report.Clients {
		id, err := c.writer.EnsureClient(ctx, model.Client{
			Name:   summary.Key,
			Status: model.StatusActive,
		})
		if err != nil {
			return counts, fmt.Errorf("failed to create client %q: %w", summary.Key, err)
		}
		clientIDs[summary.Key] = id
		counts.Clients++
	}

	accountIDs := map[string]string{}
	for _, summary := range report.Accounts {
		clientID, ok := clientIDs[summary.ClientName]
		if !ok {
			// The owning client already existed; resolve its id.
			id, err := c.writer.EnsureClient(ctx, model.Client{Name: summary.ClientName, Status: model.StatusActive})
			if err != nil {
				return counts, fmt.Errorf("failed to resolve client %q for account %q: %w", summary.ClientName, summary.Key, err)
			}
			clientID = id
		}
		id, err := c.writer.EnsureAccount(ctx, model.Account{
			ClientID:      clientID,
			AccountNumber: summary.Key,
			Type:          model.AccountPersonal,
			Category:      model.CategoryGeneral,
			Status:        model.StatusActive,
			OpenedAt:      c.now().UTC(),
		})
		if err != nil {
			return counts, fmt.Errorf("failed to create account %q: %w", summary.Key, err)
		}
		accountIDs[summary.Key] = id
		counts.Accounts++
	}

	for _, summary := range report.Goals {
		accountID, ok := accountIDs[summary.AccountNumber]
		if !ok {
			id, err := c.writer.EnsureAccount(ctx, model.Account{
				AccountNumber: summary.AccountNumber,
				Type:          model.AccountPersonal,
				Category:      model.CategoryGeneral,
				Status:        model.StatusActive,
				OpenedAt:      c.now().UTC(),
			})
			if err != nil {
				return counts, fmt.Errorf("failed to resolve account %q for goal %q: %w", summary.AccountNumber, summary.Key, err)
			}
			accountID = id
		}
		_, err := c.writer.EnsureGoal(ctx, model.Goal{
			AccountID:        accountID,
			GoalNumber:       summary.Key,
			Title:            summary.GoalTitle,
			Type:             DefaultGoalType,
			RiskTolerance:    DefaultGoalRiskTolerance,
			FundDistribution: summary.FundDistribution,
			Status:           model.StatusActive,
		})
		if err != nil {
			return counts, fmt.Errorf("failed to create goal %q: %w", summary.Key, err)
		}
		counts.Goals++
	}

	c.logger.Info("approved entities created",
		zap.Int("clients", counts.Clients),
		zap.Int("accounts", counts.Accounts),
		zap.Int("goals", counts.Goals))
	return counts, nil
}
