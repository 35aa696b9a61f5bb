// Package model defines the domain entities shared by the ingest pipelines,
// the reconciliation engine and the Postgres store.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundCode identifies one of the four unit-trust funds. The set is closed;
// rows naming any other code are rejected at validation.
type FundCode string

const (
	FundXUMMF FundCode = "XUMMF"
	FundXUBF  FundCode = "XUBF"
	FundXUDEF FundCode = "XUDEF"
	FundXUREF FundCode = "XUREF"
)

// AllFundCodes lists the closed fund set in canonical order.
var AllFundCodes = []FundCode{FundXUMMF, FundXUBF, FundXUDEF, FundXUREF}

// IsValidFundCode reports whether code names one of the four funds.
func IsValidFundCode(code string) bool {
	switch FundCode(code) {
	case FundXUMMF, FundXUBF, FundXUDEF, FundXUREF:
		return true
	}
	return false
}

// TransactionType is the direction of a fund or bank transaction.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeRedemption TransactionType = "redemption"
)

// TransactionSource is the channel a transaction arrived through.
type TransactionSource string

const (
	SourceBank   TransactionSource = "BANK"
	SourceMobile TransactionSource = "MOBILE"
	SourceAgent  TransactionSource = "AGENT"
	SourceWeb    TransactionSource = "WEB"
	SourceUSSD   TransactionSource = "USSD"
)

// IsValidSource reports whether s names a known channel.
func IsValidSource(s string) bool {
	switch TransactionSource(s) {
	case SourceBank, SourceMobile, SourceAgent, SourceWeb, SourceUSSD:
		return true
	}
	return false
}

// EntityStatus is the lifecycle status of clients, accounts, goals and funds.
type EntityStatus string

const (
	StatusActive   EntityStatus = "active"
	StatusInactive EntityStatus = "inactive"
)

// AccountType classifies an account.
type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountPooled   AccountType = "pooled"
	AccountJoint    AccountType = "joint"
	AccountLinked   AccountType = "linked"
)

// AccountCategory classifies the regulatory bucket of an account.
type AccountCategory string

const (
	CategoryGeneral     AccountCategory = "general"
	CategoryFamily      AccountCategory = "family"
	CategoryClubs       AccountCategory = "investment_clubs"
	CategoryRetirements AccountCategory = "retirements_benefit_scheme"
)

// Client is an investor known to the fund system.
type Client struct {
	ID     string
	Name   string
	Status EntityStatus
}

// Account belongs to exactly one client.
type Account struct {
	ID            string
	ClientID      string
	AccountNumber string
	Type          AccountType
	Category      AccountCategory
	SponsorCode   *string
	Status        EntityStatus
	OpenedAt      time.Time
}

// Goal is an investment goal under an account. FundDistribution maps a fund
// code to the whole-percent share observed when the goal was created.
type Goal struct {
	ID               string
	AccountID        string
	GoalNumber       string
	Title            string
	Type             string
	RiskTolerance    string
	FundDistribution map[FundCode]decimal.Decimal
	Status           EntityStatus
}

// Fund is one of the four unit-trust funds. Seed data.
type Fund struct {
	ID     string
	Code   FundCode
	Name   string
	Status EntityStatus
}

// FundPrice is the daily price row for one fund. bid <= mid <= offer.
type FundPrice struct {
	FundID    string
	FundCode  FundCode
	PriceDate time.Time
	Bid       decimal.Decimal
	Mid       decimal.Decimal
	Offer     decimal.Decimal
}

// FundTransaction is the leaf fact: one fund's leg of a goal movement.
// Immutable after creation; deleted only on batch rollback.
type FundTransaction struct {
	ID                  string
	FundTransactionID   string
	GoalTransactionCode string
	TransactionID       string
	Source              TransactionSource
	ClientID            string
	AccountID           string
	GoalID              string
	FundID              string
	UploadBatchID       string
	TransactionDate     time.Time
	DateCreated         time.Time
	Type                TransactionType
	Amount              decimal.Decimal
	Units               decimal.Decimal
	Bid                 decimal.Decimal
	Mid                 decimal.Decimal
	Offer               decimal.Decimal
	PriceDate           time.Time
	RowNumber           int
}

// ProcessingStatus is the batch state machine.
type ProcessingStatus string

const (
	BatchQueued             ProcessingStatus = "queued"
	BatchParsing            ProcessingStatus = "parsing"
	BatchValidating         ProcessingStatus = "validating"
	BatchProcessing         ProcessingStatus = "processing"
	BatchCompleted          ProcessingStatus = "completed"
	BatchFailed             ProcessingStatus = "failed"
	BatchWaitingForApproval ProcessingStatus = "waiting_for_approval"
	BatchCanceled           ProcessingStatus = "canceled"
)

// ValidationStatus summarises the validator outcome for a batch.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationWarning ValidationStatus = "passed_with_warnings"
	ValidationFailed  ValidationStatus = "failed"
)

// NewEntitiesStatus tracks the approval flow on a batch.
type NewEntitiesStatus string

const (
	EntitiesNone     NewEntitiesStatus = "none"
	EntitiesPending  NewEntitiesStatus = "pending"
	EntitiesApproved NewEntitiesStatus = "approved"
	EntitiesRejected NewEntitiesStatus = "rejected"
)

// RowError is one failed validation rule on one row. Severity critical fails
// the batch; warning and info are surfaced but do not.
type RowError struct {
	RowNumber       int         `json:"rowNumber"`
	Field           string      `json:"field"`
	Code            string      `json:"errorCode"`
	Severity        ErrSeverity `json:"severity"`
	Message         string      `json:"message"`
	SuggestedAction string      `json:"suggestedAction,omitempty"`
	Value           string      `json:"value,omitempty"`
}

// ErrSeverity grades a RowError.
type ErrSeverity string

const (
	SeverityCritical ErrSeverity = "critical"
	SeverityWarning  ErrSeverity = "warning"
	SeverityInfo     ErrSeverity = "info"
)

// NewEntitySummary describes one not-yet-known client, account or goal found
// in an upload, for the approval report.
type NewEntitySummary struct {
	Key              string                       `json:"key"`
	TransactionCount int                          `json:"transactionCount"`
	TotalAmount      decimal.Decimal              `json:"totalAmount"`
	FundDistribution map[FundCode]decimal.Decimal `json:"fundDistribution,omitempty"`
	ClientName       string                       `json:"clientName,omitempty"`
	AccountNumber    string                       `json:"accountNumber,omitempty"`
	GoalTitle        string                       `json:"goalTitle,omitempty"`
}

// NewEntitiesReport is the approval report attached to a paused batch.
type NewEntitiesReport struct {
	Clients  []NewEntitySummary `json:"clients"`
	Accounts []NewEntitySummary `json:"accounts"`
	Goals    []NewEntitySummary `json:"goals"`
}

// Empty reports whether the upload introduced no new entities.
func (r NewEntitiesReport) Empty() bool {
	return len(r.Clients) == 0 && len(r.Accounts) == 0 && len(r.Goals) == 0
}

// UploadBatch is the authoritative record of one ingest run.
type UploadBatch struct {
	ID                    string
	BatchNumber           string
	FileName              string
	FileSize              int64
	FilePath              string
	ProcessingStatus      ProcessingStatus
	ValidationStatus      ValidationStatus
	TotalRecords          int
	ProcessedRecords      int
	FailedRecords         int
	ValidationErrors      []RowError
	ValidationWarnings    []RowError
	NewEntities           *NewEntitiesReport
	NewEntitiesStatus     NewEntitiesStatus
	TotalAmount           decimal.Decimal
	TotalDeposits         decimal.Decimal
	TotalWithdrawals      decimal.Decimal
	TotalGoalTransactions int
	FailureReason         string
	CancelRequested       bool
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	UploadedBy            string
	ApprovedBy            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// InvalidFundTransaction is the audit record of a rejected row.
type InvalidFundTransaction struct {
	UploadBatchID string
	RowNumber     int
	RawData       map[string]string
	Errors        []RowError
}

// ReconciliationStatus is the match state of one bank goal transaction.
type ReconciliationStatus string

const (
	ReconUnmatched     ReconciliationStatus = "unmatched"
	ReconMatched       ReconciliationStatus = "matched"
	ReconMissingInFund ReconciliationStatus = "missing_in_fund"
)

// ReviewTag annotates bank transactions excluded from variance review.
type ReviewTag string

const (
	TagReversalNetted ReviewTag = "reversal_netted"
)

// BankGoalTransaction is one aggregated cash movement declared by the bank
// for a goal, with both the per-fund percentages and per-fund amounts.
type BankGoalTransaction struct {
	ID                         string
	BankUploadBatchID          string
	TransactionDate            time.Time
	FirstName                  string
	LastName                   string
	AccountNumber              string
	GoalName                   string
	GoalNumber                 string
	TotalAmount                decimal.Decimal
	Percentages                map[FundCode]decimal.Decimal
	Amounts                    map[FundCode]decimal.Decimal
	Type                       TransactionType
	TransactionID              string
	ClientID                   *string
	AccountID                  *string
	GoalID                     *string
	ReconciliationStatus       ReconciliationStatus
	MatchedGoalTransactionCode *string
	MatchingScore              *decimal.Decimal
	ReviewTag                  *ReviewTag
	RowNumber                  int
}

// VarianceType classifies a reconciliation variance.
type VarianceType string

const (
	VarianceTotalAmount      VarianceType = "total_amount_mismatch"
	VarianceFundDistribution VarianceType = "fund_distribution_mismatch"
	VarianceDate             VarianceType = "date_mismatch"
	VarianceMissingInBank    VarianceType = "missing_in_bank"
	VarianceMissingInFund    VarianceType = "missing_in_fund_system"
)

// VarianceSeverity grades a variance by absolute amount difference.
type VarianceSeverity string

const (
	VarianceLow      VarianceSeverity = "low"
	VarianceMedium   VarianceSeverity = "medium"
	VarianceHigh     VarianceSeverity = "high"
	VarianceCritical VarianceSeverity = "critical"
)

// ResolutionStatus is the review state of a variance.
type ResolutionStatus string

const (
	ResolutionOpen     ResolutionStatus = "open"
	ResolutionApproved ResolutionStatus = "approved"
	ResolutionDisputed ResolutionStatus = "disputed"
)

// ReconciliationVariance is one recorded discrepancy between the bank feed
// and the fund system.
type ReconciliationVariance struct {
	ID                      string
	BankGoalTransactionID   string
	FundGoalTransactionCode *string
	Type                    VarianceType
	Severity                VarianceSeverity
	FundCode                *FundCode
	AmountDifference        decimal.Decimal
	DateDifferenceDays      int
	ResolutionStatus        ResolutionStatus
	AutoApproved            bool
	Reviewer                string
	Notes                   string
	CreatedAt               time.Time
}

// GoalTransactionAggregate is one row of the goal-transaction read model,
// derived by grouping the fund-transaction legs sharing a code.
type GoalTransactionAggregate struct {
	GoalTransactionCode string
	TransactionDate     time.Time
	ClientName          string
	AccountNumber       string
	GoalNumber          string
	TransactionID       string
	Source              TransactionSource
	Type                TransactionType
	TotalAmount         decimal.Decimal
	FundAmounts         map[FundCode]decimal.Decimal
	FundCount           int
	DepositCount        int
	WithdrawalCount     int
}

// AccountUnitBalance is one row of the per-account unit balance read model.
type AccountUnitBalance struct {
	AccountID           string
	ClientName          string
	AccountNumber       string
	AccountType         AccountType
	AccountCategory     AccountCategory
	FundUnits           map[FundCode]decimal.Decimal
	TotalUnits          decimal.Decimal
	LastTransactionDate *time.Time
}
