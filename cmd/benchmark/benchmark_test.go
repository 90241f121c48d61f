package main

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

const paySimSample = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
1,CASH_IN,not-a-number,C840083671,181.0,0.0,C38997010,21182.0,0.0,0,0
2,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
`

func TestReadPaySim(t *testing.T) {
	t.Run("ParsesAndSkipsMalformed", func(t *testing.T) {
		rows, skipped, err := readPaySim(strings.NewReader(paySimSample), selection{sampleRate: 1})
		if err != nil {
			t.Fatalf("readPaySim failed: %v", err)
		}
		if len(rows) != 3 || skipped != 1 {
			t.Fatalf("expected 3 rows and 1 skipped, got %d and %d", len(rows), skipped)
		}
		if rows[0].Line != 2 || rows[2].Line != 5 {
			t.Errorf("expected csv line numbers 2 and 5, got %d and %d", rows[0].Line, rows[2].Line)
		}
		if rows[0].Amount.String() != "9839.64" {
			t.Errorf("expected amount 9839.64, got %s", rows[0].Amount)
		}
		if !rows[1].IsFraud || !rows[1].drained() {
			t.Errorf("expected drained fraud row, got %+v", rows[1])
		}
	})

	t.Run("FraudOnly", func(t *testing.T) {
		rows, _, err := readPaySim(strings.NewReader(paySimSample), selection{fraudOnly: true})
		if err != nil {
			t.Fatalf("readPaySim failed: %v", err)
		}
		if len(rows) != 2 {
			t.Errorf("expected 2 fraud rows, got %d", len(rows))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		rows, _, _ := readPaySim(strings.NewReader(paySimSample), selection{limit: 1, sampleRate: 1})
		if len(rows) != 1 {
			t.Errorf("expected 1 row, got %d", len(rows))
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		_, _, err := readPaySim(strings.NewReader("step,type\n1,PAYMENT\n"), selection{})
		if err == nil {
			t.Error("expected missing column error")
		}
	})
}

func TestRowRequest(t *testing.T) {
	rows, _, err := readPaySim(strings.NewReader(paySimSample), selection{sampleRate: 1})
	if err != nil {
		t.Fatalf("readPaySim failed: %v", err)
	}

	req := rows[2].request("run-7")
	if req.TxnID != "run-7-5" {
		t.Errorf("expected txn id run-7-5, got %s", req.TxnID)
	}
	if req.Channel != "ATM" || req.Direction != string(domain.DirectionWithdraw) {
		t.Errorf("expected ATM withdrawal, got %s %s", req.Channel, req.Direction)
	}
	if req.Timestamp != "2025-01-01T02:00:00Z" {
		t.Errorf("expected step 2 at 02:00, got %s", req.Timestamp)
	}
	if err := req.ToTransaction().Validate(); err != nil {
		t.Errorf("expected valid transaction, got %v", err)
	}
}

func TestPaySimChannel(t *testing.T) {
	tests := map[string]string{
		"PAYMENT":  "UPI",
		"TRANSFER": "NEFT",
		"CASH_OUT": "ATM",
		"CASH_IN":  "ATM",
		"DEBIT":    "CARD",
		"OTHER":    "UPI",
	}
	for in, want := range tests {
		if got := paySimChannel(in); got != want {
			t.Errorf("paySimChannel(%s): expected %s, got %s", in, want, got)
		}
	}
}

func TestConfusion(t *testing.T) {
	c := &confusion{}
	for _, o := range []struct{ actual, predicted bool }{
		{true, true}, {true, true}, {true, false},
		{false, true}, {false, false}, {false, false}, {false, false},
	} {
		c.record(o.actual, o.predicted, time.Millisecond)
	}
	c.fail(time.Millisecond)

	if c.tp != 2 || c.fn != 1 || c.fp != 1 || c.tn != 3 || c.errors != 1 {
		t.Fatalf("unexpected tallies: %+v", c)
	}
	if math.Abs(c.precision()-2.0/3) > 1e-9 {
		t.Errorf("expected precision 0.6667, got %.4f", c.precision())
	}
	if math.Abs(c.recall()-2.0/3) > 1e-9 {
		t.Errorf("expected recall 0.6667, got %.4f", c.recall())
	}
	if math.Abs(c.f1()-2.0/3) > 1e-9 {
		t.Errorf("expected f1 0.6667, got %.4f", c.f1())
	}
	if math.Abs(c.accuracy()-5.0/7) > 1e-9 {
		t.Errorf("expected accuracy 0.7143, got %.4f", c.accuracy())
	}

	var buf bytes.Buffer
	report(&buf, c, time.Second)
	if !strings.Contains(buf.String(), "precision") || !strings.Contains(buf.String(), "NO ALERT") {
		t.Errorf("expected summary table, got %q", buf.String())
	}
}

func TestConfusionEmpty(t *testing.T) {
	c := &confusion{}
	if c.precision() != 0 || c.recall() != 0 || c.f1() != 0 || c.accuracy() != 0 {
		t.Error("expected zero metrics with no rows")
	}
}
