package main

import (
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"
)

// confusion tallies alert predictions against the fraud label.
type confusion struct {
	mu      sync.Mutex
	tp, fp  int64
	tn, fn  int64
	errors  int64
	latency time.Duration
}

func (c *confusion) record(actual, predicted bool, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency += elapsed
	switch {
	case predicted && actual:
		c.tp++
	case predicted:
		c.fp++
	case actual:
		c.fn++
	default:
		c.tn++
	}
}

func (c *confusion) fail(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency += elapsed
	c.errors++
}

func (c *confusion) scored() int64 { return c.tp + c.fp + c.tn + c.fn }

func (c *confusion) precision() float64 { return ratio(c.tp, c.tp+c.fp) }

func (c *confusion) recall() float64 { return ratio(c.tp, c.tp+c.fn) }

func (c *confusion) accuracy() float64 { return ratio(c.tp+c.tn, c.scored()) }

func (c *confusion) f1() float64 {
	p, r := c.precision(), c.recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// report prints the run summary. c must no longer be written to.
func report(w io.Writer, c *confusion, elapsed time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	total := c.scored() + c.errors
	fmt.Fprintf(tw, "\nscored\t%d\n", c.scored())
	fmt.Fprintf(tw, "fraud\t%d\n", c.tp+c.fn)
	fmt.Fprintf(tw, "errors\t%d\n", c.errors)

	fmt.Fprintf(tw, "\n\tALERT\tNO ALERT\n")
	fmt.Fprintf(tw, "fraud\t%d\t%d\n", c.tp, c.fn)
	fmt.Fprintf(tw, "legit\t%d\t%d\n", c.fp, c.tn)

	fmt.Fprintf(tw, "\nprecision\t%.4f\n", c.precision())
	fmt.Fprintf(tw, "recall\t%.4f\n", c.recall())
	fmt.Fprintf(tw, "f1\t%.4f\n", c.f1())
	fmt.Fprintf(tw, "accuracy\t%.4f\n", c.accuracy())
	fmt.Fprintf(tw, "false alarm rate\t%.4f\n", ratio(c.fp, c.fp+c.tn))

	fmt.Fprintf(tw, "\nduration\t%v\n", elapsed.Round(time.Millisecond))
	if total > 0 {
		fmt.Fprintf(tw, "avg latency\t%.2f ms\n", float64(c.latency.Microseconds())/1000/float64(total))
		fmt.Fprintf(tw, "throughput\t%.2f tx/s\n", float64(total)/elapsed.Seconds())
	}
}
