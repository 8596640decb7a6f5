package uplink

// Public API to easy create radio channel stubs to test your code.
import (
	"context"
	"fmt"
	"sync"
)

type MockChannel struct {
	sync.Mutex
	OpenErrs []error
	SendErrs []error

	Opens  int
	Closes int
	Sent   [][]byte
	// Attempts counts Send calls including failed ones
	Attempts int
}

func (self *MockChannel) Open(ctx context.Context) (Session, error) {
	self.Lock()
	defer self.Unlock()
	self.Opens++
	if err := popErr(&self.OpenErrs); err != nil {
		return nil, err
	}
	return &mockSession{ch: self}, nil
}

func (self *MockChannel) Payloads() []string {
	self.Lock()
	defer self.Unlock()
	ss := make([]string, len(self.Sent))
	for i, b := range self.Sent {
		ss[i] = string(b)
	}
	return ss
}

type mockSession struct {
	ch     *MockChannel
	closed bool
}

func (self *mockSession) Send(ctx context.Context, payload []byte) error {
	self.ch.Lock()
	defer self.ch.Unlock()
	if self.closed {
		return fmt.Errorf("mock session closed")
	}
	self.ch.Attempts++
	if err := popErr(&self.ch.SendErrs); err != nil {
		return err
	}
	self.ch.Sent = append(self.ch.Sent, append([]byte(nil), payload...))
	return nil
}

func (self *mockSession) Close() error {
	self.ch.Lock()
	defer self.ch.Unlock()
	if self.closed {
		return fmt.Errorf("mock session double close")
	}
	self.closed = true
	self.ch.Closes++
	return nil
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
