package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

const fundHeader = "Transaction Date,Client Name,Fund Code,Amount,Units,Transaction Type,Bid Price,Offer Price,Mid Price,Date Created,Goal Title,Goal Number,Account Number,Account Type,Account Category,Transaction ID,Source"

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collectFundRows(t *testing.T, path string) []*FundRow {
	t.Helper()
	var rows []*FundRow
	err := StreamFund(context.Background(), path, func(r *FundRow) error {
		rows = append(rows, r)
		return nil
	})
	require.NoError(t, err)
	return rows
}

func TestStreamFundParsesTypedRow(t *testing.T) {
	csv := fundHeader + "\n" +
		"2025-01-02,John Okello,XUMMF,\"36,085\",34.9367,deposit,1021.5,1032.87,1027.2,2025-01-02,Retirement,701-8076522785a,701-807,personal,general,S19292983/02-01-2025/1,BANK\n"
	rows := collectFundRows(t, writeTempCSV(t, csv))
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, 2, row.RowNumber)
	assert.False(t, row.HasParseErrors(), "parse errors: %v", row.ParseErrors)
	assert.Equal(t, "John Okello", row.ClientName)
	assert.Equal(t, "XUMMF", row.FundCode)
	assert.True(t, row.Amount.Equal(decimal.RequireFromString("36085")))
	assert.True(t, row.Units.Equal(decimal.RequireFromString("34.9367")))
	assert.True(t, row.Offer.Equal(decimal.RequireFromString("1032.87")))
	assert.Equal(t, "2025-01-02|701-807|701-8076522785a", row.Code)
}

func TestStreamFundHeaderAliasesAndCase(t *testing.T) {
	csv := "TRANSACTION DATE,client name,Fund,Amount,Units,Type,Bid,Offer,Mid,Created,Goal Name,Goal No,Acc Number,Acc Type,Acc Category,Trans ID,Channel\n" +
		"15/01/2025,Jane Doe,XUBF,109121,105.11,deposit,1030,1038.17,1034,15/01/2025,School Fees,701-9,701-900,personal,general,S1/15-01-2025/9,MOBILE\n"
	rows := collectFundRows(t, writeTempCSV(t, csv))
	require.Len(t, rows, 1)
	assert.False(t, rows[0].HasParseErrors())
	assert.Equal(t, "Jane Doe", rows[0].ClientName)
	assert.Equal(t, "2025-01-15", rows[0].TransactionDate.Format("2006-01-02"))
}

func TestStreamFundDateFormats(t *testing.T) {
	csv := fundHeader + "\n" +
		"2025-01-02,A,XUMMF,2000,1,deposit,1,2,1.5,2-Jan-25,T,g,a,personal,general,id1,BANK\n" +
		"2-Jan-25,B,XUBF,2000,1,deposit,1,2,1.5,2025-01-02,T,g,a,personal,general,id2,BANK\n" +
		"02/01/2025,C,XUDEF,2000,1,deposit,1,2,1.5,02/01/2025,T,g,a,personal,general,id3,BANK\n"
	rows := collectFundRows(t, writeTempCSV(t, csv))
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.False(t, row.HasParseErrors(), "row %d: %v", row.RowNumber, row.ParseErrors)
		assert.Equal(t, "2025-01-02", row.TransactionDate.Format("2006-01-02"))
	}
}

func TestStreamFundMalformedValueKeepsStreaming(t *testing.T) {
	csv := fundHeader + "\n" +
		"not-a-date,A,XUMMF,abc,1,deposit,1,2,1.5,2025-01-02,T,g,a,personal,general,id1,BANK\n" +
		"2025-01-02,B,XUBF,2000,1,deposit,1,2,1.5,2025-01-02,T,g,a,personal,general,id2,BANK\n"
	rows := collectFundRows(t, writeTempCSV(t, csv))
	require.Len(t, rows, 2)

	bad := rows[0]
	assert.True(t, bad.HasParseErrors())
	fields := map[string]bool{}
	for _, e := range bad.ParseErrors {
		fields[e.Field] = true
		assert.Equal(t, model.SeverityCritical, e.Severity)
		assert.Equal(t, 2, e.RowNumber)
	}
	assert.True(t, fields["transactionDate"])
	assert.True(t, fields["amount"])

	assert.False(t, rows[1].HasParseErrors())
	assert.Equal(t, 3, rows[1].RowNumber)
}

func TestStreamFundWholeFileErrors(t *testing.T) {
	emit := func(*FundRow) error { return nil }

	err := StreamFund(context.Background(), writeTempCSV(t, ""), emit)
	assert.ErrorContains(t, err, "no header")

	err = StreamFund(context.Background(), writeTempCSV(t, "foo,bar\n"), emit)
	assert.ErrorContains(t, err, "missing required columns")

	err = StreamFund(context.Background(), writeTempCSV(t, fundHeader+"\n"), emit)
	assert.ErrorIs(t, err, ErrNoDataRows)
}

func TestStreamFundHonoursContext(t *testing.T) {
	csv := fundHeader + "\n" +
		"2025-01-02,A,XUMMF,2000,1,deposit,1,2,1.5,2025-01-02,T,g,a,personal,general,id1,BANK\n"
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamFund(ctx, writeTempCSV(t, csv), func(*FundRow) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
