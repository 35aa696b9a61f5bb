package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

func validBankRow() *ingest.BankRow {
	return &ingest.BankRow{
		RowNumber:     2,
		Raw:           map[string]string{"totalAmount": "100000"},
		Date:          time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		FirstName:     "Jane",
		LastName:      "Doe",
		AccountNumber: "701-555",
		GoalName:      "Retirement",
		GoalNumber:    "701-5558635",
		TotalAmount:   decimal.RequireFromString("100000"),
		Percentages: map[model.FundCode]decimal.Decimal{
			model.FundXUMMF: decimal.RequireFromString("0.25"),
			model.FundXUBF:  decimal.RequireFromString("0.75"),
		},
		Amounts: map[model.FundCode]decimal.Decimal{
			model.FundXUMMF: decimal.RequireFromString("25000"),
			model.FundXUBF:  decimal.RequireFromString("75000"),
			model.FundXUDEF: decimal.Zero,
			model.FundXUREF: decimal.Zero,
		},
		Type:          "DEPOSIT",
		TransactionID: "S1/01-02-2025/4",
	}
}

func TestValidBankRowPasses(t *testing.T) {
	errs := newValidator().ValidateBankRow(validBankRow())
	assert.Empty(t, errs, "unexpected errors: %v", errs)
}

func TestBankSumToTotalInvariant(t *testing.T) {
	v := newValidator()

	// Off by exactly one currency unit is tolerated.
	row := validBankRow()
	row.Amounts[model.FundXUMMF] = decimal.RequireFromString("25001")
	errs := v.ValidateBankRow(row)
	assert.NotContains(t, codesOf(errs), CodeBankAmountSum)

	// Off by more than one is critical.
	row = validBankRow()
	row.Amounts[model.FundXUMMF] = decimal.RequireFromString("25002")
	errs = v.ValidateBankRow(row)
	assert.Contains(t, codesOf(errs), CodeBankAmountSum)
}

func TestBankPercentSumInvariant(t *testing.T) {
	v := newValidator()

	row := validBankRow()
	row.Percentages[model.FundXUBF] = decimal.RequireFromString("0.80")
	errs := v.ValidateBankRow(row)
	assert.Contains(t, codesOf(errs), CodeBankPercentSum)

	// All-zero percentages are not checked.
	row = validBankRow()
	row.Percentages = map[model.FundCode]decimal.Decimal{}
	errs = v.ValidateBankRow(row)
	assert.NotContains(t, codesOf(errs), CodeBankPercentSum)
}

func TestBankTypeMustBeDepositOrWithdrawal(t *testing.T) {
	row := validBankRow()
	row.Type = "redemption"
	errs := newValidator().ValidateBankRow(row)
	assert.Contains(t, codesOf(errs), CodeInvalidType)

	row = validBankRow()
	row.Type = "WITHDRAWAL"
	errs = newValidator().ValidateBankRow(row)
	assert.NotContains(t, codesOf(errs), CodeInvalidType)
}

func TestBankRequiredFields(t *testing.T) {
	row := validBankRow()
	row.GoalNumber = ""
	row.TransactionID = ""
	errs := newValidator().ValidateBankRow(row)
	count := 0
	for _, e := range errs {
		if e.Code == CodeRequiredField {
			count++
		}
	}
	assert.Equal(t, 2, count)
}
