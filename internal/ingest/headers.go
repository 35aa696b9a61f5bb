package ingest

import (
	"fmt"
	"strings"
)

// canonical squashes a header cell to a comparable key: lower case, no
// spaces, underscores or hyphens.
func canonical(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
	return h
}

// fundHeaderAliases maps every accepted spelling of a fund-feed column to
// its canonical field name. Header matching is case-insensitive and ignores
// interior whitespace, so only genuinely different spellings appear here.
var fundHeaderAliases = map[string]string{
	"transactiondate": "transactionDate",
	"transdate":       "transactionDate",
	"date":            "transactionDate",

	"clientname":   "clientName",
	"client":       "clientName",
	"customername": "clientName",

	"fundcode": "fundCode",
	"fund":     "fundCode",

	"amount":    "amount",
	"amountugx": "amount",
	"value":     "amount",

	"units":     "units",
	"unitcount": "units",

	"transactiontype": "transactionType",
	"type":            "transactionType",

	"bidprice":   "bidPrice",
	"bid":        "bidPrice",
	"offerprice": "offerPrice",
	"offer":      "offerPrice",
	"midprice":   "midPrice",
	"mid":        "midPrice",

	"datecreated": "dateCreated",
	"created":     "dateCreated",
	"createdat":   "dateCreated",

	"goaltitle":  "goalTitle",
	"goalname":   "goalTitle",
	"goalnumber": "goalNumber",
	"goalno":     "goalNumber",

	"accountnumber": "accountNumber",
	"accnumber":     "accountNumber",
	"accno":         "accountNumber",

	"accounttype":     "accountType",
	"acctype":         "accountType",
	"accountcategory": "accountCategory",
	"acccategory":     "accountCategory",

	"transactionid": "transactionId",
	"transid":       "transactionId",
	"statementid":   "transactionId",

	"source":  "source",
	"channel": "source",

	"sponsorcode": "sponsorCode",
	"sponsor":     "sponsorCode",
}

// fundRequiredColumns are the canonical fund-feed fields that must all be
// present in the header row.
var fundRequiredColumns = []string{
	"transactionDate", "clientName", "fundCode", "amount", "units",
	"transactionType", "bidPrice", "offerPrice", "midPrice", "dateCreated",
	"goalTitle", "goalNumber", "accountNumber", "accountType",
	"accountCategory", "transactionId", "source",
}

// mapFundHeader resolves the header row to a field→column index mapping.
func mapFundHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, cell := range header {
		if field, ok := fundHeaderAliases[canonical(cell)]; ok {
			if _, dup := cols[field]; !dup {
				cols[field] = i
			}
		}
	}
	var missing []string
	for _, field := range fundRequiredColumns {
		if _, ok := cols[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("header is missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// bankHeaderAliases covers the non-fund columns of the bank statement.
var bankHeaderAliases = map[string]string{
	"date":            "date",
	"transactiondate": "date",

	"firstname": "firstName",
	"lastname":  "lastName",

	"accnumber":     "accountNumber",
	"accountnumber": "accountNumber",
	"accno":         "accountNumber",

	"goalname":   "goalName",
	"goalnames":  "goalName",
	"goaltitle":  "goalName",
	"goalnumber": "goalNumber",
	"goalno":     "goalNumber",

	"totalamount": "totalAmount",
	"total":       "totalAmount",

	"transactiontype": "transactionType",
	"type":            "transactionType",

	"transactionid": "transactionId",
	"transid":       "transactionId",
}

// bankColumns is the resolved layout of a bank-statement header. The bank
// file carries each fund code twice: the first run holds percentages, the
// second run holds amounts. The mapper preserves that ordering.
type bankColumns struct {
	fields     map[string]int
	percentCol map[string]int
	amountCol  map[string]int
}

var bankFundCodes = []string{"XUMMF", "XUBF", "XUDEF", "XUREF"}

// mapBankHeader resolves the bank header, splitting the duplicate fund-code
// run into percentage and amount columns.
func mapBankHeader(header []string) (*bankColumns, error) {
	bc := &bankColumns{
		fields:     make(map[string]int),
		percentCol: make(map[string]int),
		amountCol:  make(map[string]int),
	}
	for i, cell := range header {
		key := canonical(cell)
		if field, ok := bankHeaderAliases[key]; ok {
			if _, dup := bc.fields[field]; !dup {
				bc.fields[field] = i
			}
			continue
		}
		upper := strings.ToUpper(strings.TrimSpace(cell))
		for _, code := range bankFundCodes {
			if upper != code {
				continue
			}
			if _, seen := bc.percentCol[code]; !seen {
				bc.percentCol[code] = i
			} else if _, seen := bc.amountCol[code]; !seen {
				bc.amountCol[code] = i
			}
		}
	}

	var missing []string
	for _, field := range []string{"date", "accountNumber", "goalNumber", "totalAmount", "transactionType", "transactionId"} {
		if _, ok := bc.fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	for _, code := range bankFundCodes {
		if _, ok := bc.percentCol[code]; !ok {
			missing = append(missing, code+" (percentage)")
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("bank header is missing required columns: %s", strings.Join(missing, ", "))
	}
	return bc, nil
}
