package shadeauto

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TestClient is an in-memory Client for tests.
type TestClient struct {
	mu sync.Mutex

	ThingName string
	Shades    []ShadeDescriptor
	Statuses  map[string]ShadeStatus

	// Error injection. When set, the corresponding call fails.
	RegisterErr error
	DiscoverErr error
	StatusErr   error
	ControlErr  error

	// Latency injection. When set, the corresponding call blocks first.
	StatusDelay  time.Duration
	ControlDelay time.Duration

	statusCalls int
	controls    []ControlCall
}

type ControlCall struct {
	UID      string
	Position int
}

var _ Client = (*TestClient)(nil)

func CreateTestClient() *TestClient {
	return &TestClient{
		ThingName: "TestHub",
		Statuses:  map[string]ShadeStatus{},
	}
}

func (c *TestClient) Register(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RegisterErr != nil {
		return "", c.RegisterErr
	}
	return c.ThingName, nil
}

func (c *TestClient) Discover(ctx context.Context) ([]ShadeDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DiscoverErr != nil {
		return nil, c.DiscoverErr
	}
	out := make([]ShadeDescriptor, len(c.Shades))
	copy(out, c.Shades)
	return out, nil
}

func (c *TestClient) Status(ctx context.Context) ([]ShadeStatus, error) {
	c.mu.Lock()
	delay := c.StatusDelay
	c.statusCalls++
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	var out []ShadeStatus
	for _, desc := range c.Shades {
		if st, ok := c.Statuses[desc.UID]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (c *TestClient) FetchStatus(ctx context.Context, uid string) (*ShadeStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	if st, ok := c.Statuses[uid]; ok {
		return &st, nil
	}
	return nil, fmt.Errorf("%w: uid %s", ErrNotFound, uid)
}

func (c *TestClient) Control(ctx context.Context, uid string, position int) error {
	if position < PositionClosed || position > PositionOpen {
		return fmt.Errorf("%w: position %d out of range 0-100", ErrRejected, position)
	}
	c.mu.Lock()
	delay := c.ControlDelay
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ControlErr != nil {
		return c.ControlErr
	}
	c.controls = append(c.controls, ControlCall{UID: uid, Position: position})
	return nil
}

// SetShade adds or replaces a shade and its status.
func (c *TestClient) SetShade(desc ShadeDescriptor, status ShadeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := false
	for i := range c.Shades {
		if c.Shades[i].UID == desc.UID {
			c.Shades[i] = desc
			replaced = true
		}
	}
	if !replaced {
		c.Shades = append(c.Shades, desc)
	}
	c.Statuses[desc.UID] = status
}

// RemoveShade drops a shade from discovery and status results.
func (c *TestClient) RemoveShade(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Shades {
		if c.Shades[i].UID == uid {
			c.Shades = append(c.Shades[:i], c.Shades[i+1:]...)
			break
		}
	}
	delete(c.Statuses, uid)
}

func (c *TestClient) SetPosition(uid string, position int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.Statuses[uid]
	st.UID = uid
	st.Position = &position
	c.Statuses[uid] = st
}

func (c *TestClient) SetStatusErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StatusErr = err
}

func (c *TestClient) StatusCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls
}

func (c *TestClient) ControlCalls() []ControlCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ControlCall, len(c.controls))
	copy(out, c.controls)
	return out
}
