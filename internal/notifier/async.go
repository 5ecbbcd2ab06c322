package notifier

import "strike/internal/logger"

// Sender is a blocking text notifier.
type Sender interface {
	SendText(text string) error
}

// Async decouples notification delivery from the trading paths: SendText
// returns immediately and failures are only logged.
type Async struct {
	sender Sender
}

func NewAsync(sender Sender) *Async {
	return &Async{sender: sender}
}

func (a *Async) SendText(text string) {
	if a == nil || a.sender == nil {
		return
	}
	go func() {
		if err := a.sender.SendText(text); err != nil {
			logger.Warnf("notification delivery failed: %v", err)
		}
	}()
}
