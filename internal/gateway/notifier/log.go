package notifier

import "tradeflow/internal/logger"

// LogNotifier writes notifications to the application log. Used when no
// external channel is configured so completion messages are never lost.
type LogNotifier struct{}

func (LogNotifier) SendText(text string) error {
	logger.Infof("notification:\n%s", text)
	return nil
}

var _ TextNotifier = LogNotifier{}
