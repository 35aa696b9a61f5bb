package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// BankRow is one parsed bank-statement row: a per-goal aggregated cash
// movement with the four per-fund percentages and per-fund amounts exactly
// as the bank declared them.
type BankRow struct {
	RowNumber int
	Raw       map[string]string

	Date          time.Time
	FirstName     string
	LastName      string
	AccountNumber string
	GoalName      string
	GoalNumber    string
	TotalAmount   decimal.Decimal
	Percentages   map[model.FundCode]decimal.Decimal
	Amounts       map[model.FundCode]decimal.Decimal
	Type          string
	TransactionID string

	ParseErrors []model.RowError
}

// HasParseErrors reports whether any cell failed coercion.
func (r *BankRow) HasParseErrors() bool { return len(r.ParseErrors) > 0 }

// ClientName joins the statement's name columns the way the fund system
// stores client names.
func (r *BankRow) ClientName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	default:
		return r.FirstName + " " + r.LastName
	}
}

func (r *BankRow) addParseError(field, code, msg, value string) {
	r.ParseErrors = append(r.ParseErrors, model.RowError{
		RowNumber: r.RowNumber,
		Field:     field,
		Code:      code,
		Severity:  model.SeverityCritical,
		Message:   msg,
		Value:     value,
	})
}

// StreamBank reads the bank-statement file at path and calls emit once per
// data row, mirroring StreamFund's contract.
func StreamBank(ctx context.Context, path string, emit func(*BankRow) error) error {
	src, err := openSource(path)
	if err != nil {
		return err
	}
	defer src.Close()

	header, err := src.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("file has no header row")
		}
		return fmt.Errorf("failed to read header row: %w", err)
	}
	cols, err := mapBankHeader(header)
	if err != nil {
		return err
	}

	rowNumber := 1
	dataRows := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := src.Next()
		rowNumber++
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			row := &BankRow{RowNumber: rowNumber, Raw: map[string]string{}}
			row.addParseError("", CodeMalformedRow, err.Error(), "")
			if emitErr := emit(row); emitErr != nil {
				return emitErr
			}
			continue
		}
		if isBlankRow(cells) {
			rowNumber--
			continue
		}
		dataRows++
		if err := emit(parseBankRow(cells, cols, rowNumber)); err != nil {
			return err
		}
	}
	if dataRows == 0 {
		return ErrNoDataRows
	}
	return nil
}

func parseBankRow(cells []string, cols *bankColumns, rowNumber int) *BankRow {
	row := &BankRow{
		RowNumber:   rowNumber,
		Raw:         make(map[string]string),
		Percentages: make(map[model.FundCode]decimal.Decimal, len(bankFundCodes)),
		Amounts:     make(map[model.FundCode]decimal.Decimal, len(bankFundCodes)),
	}
	get := func(field string) string {
		idx, ok := cols.fields[field]
		if !ok {
			return ""
		}
		v := cellAt(cells, idx)
		row.Raw[field] = v
		return v
	}

	row.FirstName = get("firstName")
	row.LastName = get("lastName")
	row.AccountNumber = get("accountNumber")
	row.GoalName = get("goalName")
	row.GoalNumber = get("goalNumber")
	row.Type = get("transactionType")
	row.TransactionID = get("transactionId")

	if v := get("date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			row.addParseError("date", CodeInvalidDate, err.Error(), v)
		} else {
			row.Date = d
		}
	}
	if v := get("totalAmount"); v != "" {
		d, err := ParseAmount(v)
		if err != nil {
			row.addParseError("totalAmount", CodeInvalidNumber, err.Error(), v)
		} else {
			row.TotalAmount = d
		}
	}

	for _, code := range bankFundCodes {
		fund := model.FundCode(code)
		if idx, ok := cols.percentCol[code]; ok {
			v := cellAt(cells, idx)
			row.Raw[code+"_pct"] = v
			pct, err := ParsePercent(v)
			if err != nil {
				row.addParseError(code, CodeInvalidNumber, err.Error(), v)
			} else {
				row.Percentages[fund] = pct
			}
		}
		if idx, ok := cols.amountCol[code]; ok {
			v := cellAt(cells, idx)
			row.Raw[code+"_amount"] = v
			if v == "" {
				row.Amounts[fund] = decimal.Zero
				continue
			}
			amt, err := ParseAmount(v)
			if err != nil {
				row.addParseError(code, CodeInvalidNumber, err.Error(), v)
			} else {
				row.Amounts[fund] = amt
			}
		} else {
			row.Amounts[fund] = decimal.Zero
		}
	}
	return row
}
