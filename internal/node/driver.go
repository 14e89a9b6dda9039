package node

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Mode is the driver's execution mode for one invocation.
type Mode string

const (
	ModeSerial   Mode = "serial"
	ModeParallel Mode = "parallel"
)

// RowError is a handler failure attributed to its input row.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Invocation is one node execution: an operation applied to every row the
// host supplies.
type Invocation struct {
	Operation *Operation
	Host      Host
	API       API
}

// Report is the outcome of a completed invocation.
type Report struct {
	Outputs [][]Item
	Mode    Mode
	Batch   BatchConfig
	Rows    int
	Failed  int // rows turned into error items under continue-on-fail
}

// Driver runs an operation over all rows.
type Driver struct {
	logger *slog.Logger

	// sleepFunc waits between batches. Tests override it to observe pacing
	// without real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a Driver.
func NewDriver(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{logger: logger, sleepFunc: Sleep}
}

// Run executes inv. In fail-fast mode the first failing row's error is
// returned as a *RowError and no outputs are produced.
func (d *Driver) Run(ctx context.Context, inv Invocation) (*Report, error) {
	if inv.Operation == nil || inv.Host == nil {
		return nil, fmt.Errorf("node: invocation needs an operation and a host")
	}

	batch, err := ResolveBatchConfig(inv.Host)
	if err != nil {
		return nil, err
	}

	items := inv.Host.Items()
	report := &Report{Mode: ModeSerial, Batch: batch, Rows: len(items)}

	if batch.Enabled {
		report.Mode = ModeParallel
	}

	d.logger.Debug("running operation",
		slog.String("operation", inv.Operation.Key.String()),
		slog.String("mode", string(report.Mode)),
		slog.Int("rows", len(items)),
		slog.Int("batch_size", batch.Size),
		slog.Duration("batch_interval", batch.Interval),
	)

	if report.Mode == ModeParallel {
		err = d.runParallel(ctx, inv, items, batch, report)
	} else {
		err = d.runSerial(ctx, inv, items, report)
	}

	if err != nil {
		return nil, err
	}

	return report, nil
}

func (d *Driver) runSerial(ctx context.Context, inv Invocation, items []Item, report *Report) error {
	outputs := [][]Item{{}}

	for row := range items {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("node: run canceled at row %d: %w", row, err)
		}

		res, err := d.runRow(ctx, inv, items, row)
		if err != nil {
			if !inv.Host.ContinueOnFail() {
				return &RowError{Row: row, Err: err}
			}

			report.Failed++
			outputs[0] = append(outputs[0], errorItem(row, err))

			continue
		}

		outputs = route(outputs, res, row)
	}

	report.Outputs = outputs

	return nil
}

type rowOutcome struct {
	res Result
	err error
}

func (d *Driver) runParallel(ctx context.Context, inv Invocation, items []Item, batch BatchConfig, report *Report) error {
	outcomes := make([]rowOutcome, len(items))

	var wg sync.WaitGroup

	launched := 0

	var stopErr error

	for row := range items {
		if batch.pausesBefore(row) {
			d.logger.Debug("batch boundary, pausing",
				slog.Int("row", row),
				slog.Duration("interval", batch.Interval),
			)

			if err := d.sleepFunc(ctx, batch.Interval); err != nil {
				stopErr = err
				break
			}
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			res, err := d.runRow(ctx, inv, items, row)
			outcomes[row] = rowOutcome{res: res, err: err}
		}()

		launched++
	}

	wg.Wait()

	for row := launched; row < len(items); row++ {
		outcomes[row] = rowOutcome{err: fmt.Errorf("node: not started: %w", stopErr)}
	}

	outputs := [][]Item{{}}

	for row, o := range outcomes {
		if o.err != nil {
			if !inv.Host.ContinueOnFail() {
				return &RowError{Row: row, Err: o.err}
			}

			report.Failed++
			outputs[0] = append(outputs[0], errorItem(row, o.err))

			continue
		}

		outputs = route(outputs, o.res, row)
	}

	report.Outputs = outputs

	return nil
}

// runRow invokes the handler for one row, converting a panic into an error
// so one bad row cannot take down its siblings.
func (d *Driver) runRow(ctx context.Context, inv Invocation, items []Item, row int) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				slog.String("operation", inv.Operation.Key.String()),
				slog.Int("row", row),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)

			err = fmt.Errorf("node: handler panicked: %v", r)
		}
	}()

	params := NewParams(inv.Host, row, inv.Operation.Params)

	res, err = inv.Operation.Handler(ctx, &Call{
		Row:    row,
		Items:  items,
		Params: params,
		API:    inv.API,
		Logger: d.logger.With(slog.Int("row", row)),
	})
	if err != nil {
		d.logger.Debug("row failed",
			slog.String("operation", inv.Operation.Key.String()),
			slog.Int("row", row),
			slog.String("error", err.Error()),
		)
	}

	return res, err
}

// route folds one row's result into the output array.
func route(outputs [][]Item, res Result, row int) [][]Item {
	switch r := res.(type) {
	case Single:
		for _, it := range r.Items {
			it.Paired = row
			outputs[0] = append(outputs[0], it)
		}
	case Multiple:
		if len(r.Outputs) == 0 {
			return [][]Item{{}}
		}

		replaced := make([][]Item, len(r.Outputs))
		for i, out := range r.Outputs {
			replaced[i] = append([]Item{}, out...)
		}

		return replaced
	case None, nil:
	}

	return outputs
}

func errorItem(row int, err error) Item {
	return Item{JSON: map[string]any{"error": err.Error()}, Paired: row}
}

// Sleep waits for d or until ctx is canceled. Handlers that poll use it
// too, so cancellation behaves the same everywhere.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
