package device

// Public API to easy create datalogger stubs to test your code.
import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDriver serves Records from memory.
// *Errs slices are consumed one per call, nil element means success.
type MockDriver struct {
	sync.Mutex
	Streams     []string
	Records     []Record
	TimeKey     string
	Now         time.Time
	ConnectErrs []error
	ListErrs    []error
	ReadErrs    []error

	Connects  int
	Closes    int
	Reads     int
	LastStart time.Time
	LastStop  time.Time
}

func NewMockDriver(timeKey string, streams ...string) *MockDriver {
	return &MockDriver{TimeKey: timeKey, Streams: streams}
}

func (self *MockDriver) Connect(ctx context.Context, port string, baud int) (Handle, error) {
	self.Lock()
	defer self.Unlock()
	self.Connects++
	if err := popErr(&self.ConnectErrs); err != nil {
		return nil, err
	}
	return &mockHandle{d: self}, nil
}

func (self *MockDriver) Append(rs ...Record) {
	self.Lock()
	self.Records = append(self.Records, rs...)
	self.Unlock()
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type mockHandle struct {
	d      *MockDriver
	closed bool
}

func (self *mockHandle) ListStreams(ctx context.Context) ([]string, error) {
	self.d.Lock()
	defer self.d.Unlock()
	if self.closed {
		return nil, fmt.Errorf("mock handle closed")
	}
	if err := popErr(&self.d.ListErrs); err != nil {
		return nil, err
	}
	return append([]string(nil), self.d.Streams...), nil
}

func (self *mockHandle) Read(ctx context.Context, stream string, start, stop time.Time) ([]Record, error) {
	self.d.Lock()
	defer self.d.Unlock()
	self.d.Reads++
	self.d.LastStart, self.d.LastStop = start, stop
	if self.closed {
		return nil, fmt.Errorf("mock handle closed")
	}
	if err := popErr(&self.d.ReadErrs); err != nil {
		return nil, err
	}
	result := make([]Record, 0, len(self.d.Records))
	for _, r := range self.d.Records {
		v, _ := r.Get(self.d.TimeKey)
		t, ok := v.(time.Time)
		if !ok || (!t.Before(start) && !t.After(stop)) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (self *mockHandle) CurrentTime(ctx context.Context) (time.Time, error) {
	self.d.Lock()
	defer self.d.Unlock()
	if self.d.Now.IsZero() {
		return time.Now(), nil
	}
	return self.d.Now, nil
}

func (self *mockHandle) Close() error {
	self.d.Lock()
	defer self.d.Unlock()
	if !self.closed {
		self.closed = true
		self.d.Closes++
	}
	return nil
}
