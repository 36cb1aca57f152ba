package queueing

import (
	"context"
	"sync"
	"time"

	"matchqueue/internal/probe"
	"matchqueue/internal/webfront"
)

// fakeProber lets tests script canned ServerInfo replies per target,
// the way §8 asks property tests to drive scenarios with "a scripted
// probe that returns canned ServerInfo per tick".
type fakeProber struct {
	mu      sync.Mutex
	replies map[string]func() (probe.ServerInfo, bool)
	calls   int
}

func newFakeProber() *fakeProber {
	return &fakeProber{replies: make(map[string]func() (probe.ServerInfo, bool))}
}

func (f *fakeProber) Set(target probe.Target, info probe.ServerInfo, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[target.String()] = func() (probe.ServerInfo, bool) { return info, ok }
}

func (f *fakeProber) SetFunc(target probe.Target, fn func() (probe.ServerInfo, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[target.String()] = fn
}

func (f *fakeProber) RequestInfo(ctx context.Context, target probe.Target, timeout time.Duration) (probe.ServerInfo, bool) {
	f.mu.Lock()
	f.calls++
	fn := f.replies[target.String()]
	f.mu.Unlock()
	if fn == nil {
		return probe.ServerInfo{}, false
	}
	return fn()
}

// fakeWebfront lets tests script FetchInstance results per instance id.
type fakeWebfront struct {
	mu     sync.Mutex
	byInst map[string][]webfront.ServerStatus
}

func newFakeWebfront() *fakeWebfront {
	return &fakeWebfront{byInst: make(map[string][]webfront.ServerStatus)}
}

func (f *fakeWebfront) Set(instanceID string, statuses []webfront.ServerStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byInst[instanceID] = statuses
}

func (f *fakeWebfront) FetchInstance(ctx context.Context, instanceID string) []webfront.ServerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byInst[instanceID]
}
