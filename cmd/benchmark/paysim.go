package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/shopspring/decimal"
)

// stepEpoch anchors PaySim steps (hours since start) to wall-clock time.
var stepEpoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var paySimColumns = []string{"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig", "isfraud"}

// paySimRow is the subset of a PaySim record the benchmark sends or scores against.
type paySimRow struct {
	Line           int
	Step           int
	Type           string
	Amount         decimal.Decimal
	NameOrig       string
	OldBalanceOrg  decimal.Decimal
	NewBalanceOrig decimal.Decimal
	IsFraud        bool
}

// selection narrows which rows are loaded.
type selection struct {
	limit      int
	fraudOnly  bool
	sampleRate float64
}

// keep reports whether the n-th non-fraud row survives sampling.
func (s selection) keep(n int) bool {
	if s.sampleRate >= 1 {
		return true
	}
	return float64(n%100)/100 < s.sampleRate
}

func loadPaySim(path string, sel selection) ([]paySimRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return readPaySim(f, sel)
}

// readPaySim parses a PaySim CSV. Malformed rows are skipped and counted.
func readPaySim(r io.Reader, sel selection) ([]paySimRow, int, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range paySimColumns {
		if _, ok := cols[name]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", name)
		}
	}

	var rows []paySimRow
	skipped, nonFraud := 0, 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		row, err := parseRow(record, cols)
		if err != nil {
			skipped++
			continue
		}
		row.Line = line

		if !row.IsFraud {
			if sel.fraudOnly {
				continue
			}
			nonFraud++
			if !sel.keep(nonFraud) {
				continue
			}
		}

		rows = append(rows, row)
		if sel.limit > 0 && len(rows) >= sel.limit {
			break
		}
	}

	return rows, skipped, nil
}

func parseRow(record []string, cols map[string]int) (paySimRow, error) {
	field := func(name string) string { return record[cols[name]] }

	var row paySimRow
	var err error
	if row.Step, err = strconv.Atoi(field("step")); err != nil {
		return row, fmt.Errorf("step: %w", err)
	}
	if row.Amount, err = decimal.NewFromString(field("amount")); err != nil {
		return row, fmt.Errorf("amount: %w", err)
	}
	if row.OldBalanceOrg, err = decimal.NewFromString(field("oldbalanceorg")); err != nil {
		return row, fmt.Errorf("oldbalanceOrg: %w", err)
	}
	if row.NewBalanceOrig, err = decimal.NewFromString(field("newbalanceorig")); err != nil {
		return row, fmt.Errorf("newbalanceOrig: %w", err)
	}
	row.Type = strings.ToUpper(field("type"))
	row.NameOrig = field("nameorig")
	row.IsFraud = field("isfraud") == "1"
	return row, nil
}

// request turns a row into a scoring request. Ids are stable per runID so a
// rerun with the same id replays instead of rescoring.
func (row paySimRow) request(runID string) domain.TransactionRequest {
	direction := domain.DirectionWithdraw
	if row.Type == "CASH_IN" {
		direction = domain.DirectionDeposit
	}
	return domain.TransactionRequest{
		TxnID:     fmt.Sprintf("%s-%d", runID, row.Line),
		UserID:    row.NameOrig,
		Amount:    row.Amount,
		Currency:  domain.DefaultCurrency,
		Channel:   paySimChannel(row.Type),
		Direction: string(direction),
		Timestamp: stepEpoch.Add(time.Duration(row.Step) * time.Hour).Format(time.RFC3339),
	}
}

// paySimChannel maps PaySim transaction types onto payment rails.
func paySimChannel(txType string) string {
	switch txType {
	case "TRANSFER":
		return "NEFT"
	case "CASH_OUT", "CASH_IN":
		return "ATM"
	case "DEBIT":
		return "CARD"
	default:
		return "UPI"
	}
}

// drained reports whether the row emptied the origin account.
func (row paySimRow) drained() bool {
	return row.OldBalanceOrg.IsPositive() && row.NewBalanceOrig.IsZero()
}
