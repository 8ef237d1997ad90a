package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiSender fans an alert out to several destinations at once
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a sender that delivers to every given sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delivers to all destinations concurrently and waits for them. A failing
// destination doesn't stop the others; the failures are joined in sender order.
func (s *MultiSender) Send(ctx context.Context, payload *AlertPayload) error {
	errs := make([]error, len(s.senders))

	var wg sync.WaitGroup
	for i, sender := range s.senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sender.Send(ctx, payload); err != nil {
				errs[i] = fmt.Errorf("destination %d: %w", i, err)
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("alert fan-out: %w", err)
	}
	return nil
}
