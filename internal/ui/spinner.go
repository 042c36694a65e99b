// spinner.go implements the countdown spinner shown while dragons waits between registry uploads.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// StartCountdown redraws "message <frame> <remaining>" on one line until
// the returned stop function is called or d has elapsed. Stop clears the
// line; it is safe to call more than once.
func StartCountdown(w io.Writer, message string, d time.Duration) func() {
	frames := []rune{'|', '/', '-', '\\'}
	deadline := time.Now().Add(d)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()
		idx := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				left := time.Until(deadline).Round(time.Second)
				if left < 0 {
					left = 0
				}
				fmt.Fprintf(w, "\r%s %c %s ", message, frames[idx], left)
				idx = (idx + 1) % len(frames)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
			fmt.Fprintf(w, "\r%*s\r", len(message)+16, "")
		})
	}
}
