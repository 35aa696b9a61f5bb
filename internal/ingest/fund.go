package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/txcode"
)

// Parser error codes shared with the validators. Parse-stage codes cover
// values that cannot be coerced at all; domain rules live in validate.
const (
	CodeInvalidDate   = "INVALID_DATE"
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeMalformedRow  = "MALFORMED_ROW"
)

// FundRow is one parsed fund-feed row. ParseErrors holds coercion failures;
// a row with parse errors still carries its raw cells for the audit trail.
type FundRow struct {
	RowNumber int
	Raw       map[string]string

	TransactionDate time.Time
	ClientName      string
	FundCode        string
	Amount          decimal.Decimal
	Units           decimal.Decimal
	Type            string
	Bid             decimal.Decimal
	Mid             decimal.Decimal
	Offer           decimal.Decimal
	DateCreated     time.Time
	GoalTitle       string
	GoalNumber      string
	AccountNumber   string
	AccountType     string
	AccountCategory string
	TransactionID   string
	Source          string
	SponsorCode     string

	// Code is the composite goal-transaction code, set when the date,
	// account number and goal number all parsed.
	Code string

	ParseErrors []model.RowError
}

// GoalTransactionKey implements txcode.Keyed.
func (r *FundRow) GoalTransactionKey() string { return r.Code }

// HasParseErrors reports whether any cell failed coercion.
func (r *FundRow) HasParseErrors() bool { return len(r.ParseErrors) > 0 }

func (r *FundRow) addParseError(field, code, msg, value string) {
	r.ParseErrors = append(r.ParseErrors, model.RowError{
		RowNumber: r.RowNumber,
		Field:     field,
		Code:      code,
		Severity:  model.SeverityCritical,
		Message:   msg,
		Value:     value,
	})
}

// ErrNoDataRows is returned when a file parses but contains only a header.
var ErrNoDataRows = errors.New("file contains no data rows")

// StreamFund reads the fund-feed file at path and calls emit once per data
// row, in file order, with 1-based row numbers (the header is row 1). A
// non-nil error from emit aborts the stream. Whole-file problems (missing
// file, unusable header, no data rows) are returned as errors.
func StreamFund(ctx context.Context, path string, emit func(*FundRow) error) error {
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
	cols, err := mapFundHeader(header)
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
			// csv.Reader surfaces structural problems per record; carry
			// them as row errors and keep streaming.
			row := &FundRow{RowNumber: rowNumber, Raw: map[string]string{}}
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
		if err := emit(parseFundRow(cells, cols, rowNumber)); err != nil {
			return err
		}
	}
	if dataRows == 0 {
		return ErrNoDataRows
	}
	return nil
}

func parseFundRow(cells []string, cols map[string]int, rowNumber int) *FundRow {
	row := &FundRow{RowNumber: rowNumber, Raw: make(map[string]string, len(cols))}
	get := func(field string) string {
		v := cellAt(cells, cols[field])
		row.Raw[field] = v
		return v
	}

	row.ClientName = get("clientName")
	row.FundCode = get("fundCode")
	row.Type = get("transactionType")
	row.GoalTitle = get("goalTitle")
	row.GoalNumber = get("goalNumber")
	row.AccountNumber = get("accountNumber")
	row.AccountType = get("accountType")
	row.AccountCategory = get("accountCategory")
	row.TransactionID = get("transactionId")
	row.Source = get("source")
	if idx, ok := cols["sponsorCode"]; ok {
		row.SponsorCode = cellAt(cells, idx)
		row.Raw["sponsorCode"] = row.SponsorCode
	}

	if v := get("transactionDate"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			row.addParseError("transactionDate", CodeInvalidDate, err.Error(), v)
		} else {
			row.TransactionDate = d
		}
	}
	if v := get("dateCreated"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			row.addParseError("dateCreated", CodeInvalidDate, err.Error(), v)
		} else {
			row.DateCreated = d
		}
	}

	numeric := []struct {
		field string
		dst   *decimal.Decimal
		parse func(string) (decimal.Decimal, error)
	}{
		{"amount", &row.Amount, ParseAmount},
		{"units", &row.Units, ParseUnits},
		{"bidPrice", &row.Bid, ParseAmount},
		{"midPrice", &row.Mid, ParseAmount},
		{"offerPrice", &row.Offer, ParseAmount},
	}
	for _, n := range numeric {
		v := get(n.field)
		if v == "" {
			continue
		}
		d, err := n.parse(v)
		if err != nil {
			row.addParseError(n.field, CodeInvalidNumber, err.Error(), v)
			continue
		}
		*n.dst = d
	}

	if !row.TransactionDate.IsZero() && row.AccountNumber != "" && row.GoalNumber != "" {
		if code, err := txcode.Generate(row.TransactionDate, row.AccountNumber, row.GoalNumber); err == nil {
			row.Code = code
		}
	}
	return row
}
