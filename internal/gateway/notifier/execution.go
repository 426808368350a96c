package notifier

import (
	"context"
	"fmt"
	"strings"

	"tradeflow/internal/logger"
	"tradeflow/internal/summary"
)

// ExecutionNotifier composes and delivers the customer-facing execution
// report for a completed run. Callers hold the notification lock before
// invoking it and mark the run sent only after delivery, so a crash here
// simply lets the lock expire and another invocation retry.
type ExecutionNotifier struct {
	aggregator *summary.Aggregator
	sink       TextNotifier
}

func NewExecutionNotifier(aggregator *summary.Aggregator, sink TextNotifier) *ExecutionNotifier {
	return &ExecutionNotifier{aggregator: aggregator, sink: sink}
}

// NotifyRunComplete builds the run summary and pushes it to the sink.
func (n *ExecutionNotifier) NotifyRunComplete(ctx context.Context, runID string) error {
	if n == nil || n.aggregator == nil {
		return fmt.Errorf("execution notifier not initialized")
	}
	report, err := n.aggregator.BuildRunSummary(ctx, runID)
	if err != nil {
		return err
	}
	if report == nil {
		return fmt.Errorf("run %s not found", runID)
	}
	text := RenderExecutionSummary(report)
	if n.sink == nil {
		logger.Infof("notifier: no sink configured, run=%s report:\n%s", runID, text)
		return nil
	}
	if err := n.sink.SendText(text); err != nil {
		return fmt.Errorf("delivering run %s report: %w", runID, err)
	}
	logger.Infof("notifier: run=%s report delivered", runID)
	return nil
}

// RenderExecutionSummary formats a summary as a compact text block.
// Non-fractionable skips are reported as expected skips, keeping a partial
// success visually distinct from an actual failure.
func RenderExecutionSummary(s *summary.ExecutionSummary) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	header := "execution complete"
	switch {
	case len(s.FailedSymbols) > 0:
		header = "execution finished with failures"
	case s.PartialSuccess:
		header = "execution complete (partial)"
	}
	fmt.Fprintf(&b, "*%s* run `%s`\n", header, s.RunID)
	fmt.Fprintf(&b, "trades: %d total, %d succeeded, %d failed, %d skipped\n",
		s.TotalTrades, s.SucceededTrades, s.FailedTrades, s.SkippedTrades)
	fmt.Fprintf(&b, "sells: %s filled, %s failed | buys deployed: %s\n",
		s.SellSucceededAmount, s.SellFailedAmount, s.CumulativeBuyValue)
	if len(s.SucceededSymbols) > 0 {
		fmt.Fprintf(&b, "filled: %s\n", strings.Join(s.SucceededSymbols, ", "))
	}
	if len(s.NonFractionableSkippedSymbols) > 0 {
		fmt.Fprintf(&b, "skipped (non-fractionable): %s\n", strings.Join(s.NonFractionableSkippedSymbols, ", "))
	}
	if len(s.SkippedSymbols) > 0 {
		fmt.Fprintf(&b, "skipped: %s\n", strings.Join(s.SkippedSymbols, ", "))
	}
	for _, sym := range s.FailedSymbols {
		if msg, ok := s.Errors[sym]; ok {
			fmt.Fprintf(&b, "failed: %s (%s)\n", sym, msg)
		} else {
			fmt.Fprintf(&b, "failed: %s\n", sym)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
