package session

import (
	"errors"
	"fmt"
	"sync"

	"cad-copilot/backend/internal/models"
)

var ErrIndexOutOfRange = errors.New("message index out of range")

// Log is the ordered conversation of one session. Messages are never
// reordered; they change only through the methods below.
type Log struct {
	mu   sync.RWMutex
	msgs []models.Message
}

// NewLog creates a Log holding a copy of msgs.
func NewLog(msgs []models.Message) *Log {
	l := &Log{}
	l.msgs = append(l.msgs, msgs...)
	return l
}

func (l *Log) checkIndex(i int) error {
	if i < 0 || i >= len(l.msgs) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.msgs))
	}
	return nil
}

// Append adds messages to the end of the log.
func (l *Log) Append(msgs ...models.Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msgs...)
	l.mu.Unlock()
}

// At returns the message at index i.
func (l *Log) At(i int) (models.Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkIndex(i); err != nil {
		return models.Message{}, err
	}
	return l.msgs[i], nil
}

// ReplaceAt swaps the message at index i.
func (l *Log) ReplaceAt(i int, m models.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.msgs[i] = m
	return nil
}

// DeleteAt removes the message at index i.
func (l *Log) DeleteAt(i int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.msgs = append(l.msgs[:i:i], l.msgs[i+1:]...)
	return nil
}

// SetHidden toggles the display visibility of the message at index i.
func (l *Log) SetHidden(i int, hidden bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkIndex(i); err != nil {
		return err
	}
	l.msgs[i].Hidden = hidden
	return nil
}

// TruncateTo keeps log[0..k] inclusive. k = -1 empties the log.
func (l *Log) TruncateTo(k int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if k < -1 || k >= len(l.msgs) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, k, len(l.msgs))
	}
	l.msgs = l.msgs[:k+1:k+1]
	return nil
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Snapshot returns a copy of the messages.
func (l *Log) Snapshot() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}
