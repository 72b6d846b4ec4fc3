// Package shadeauto speaks the local HTTP protocol of ShadeAuto motorized
// shade hubs. The API is unauthenticated plaintext HTTP on port 10123 with
// JSON POST bodies. The response envelopes are firmware-defined and treated
// as opaque beyond the fields this package extracts.
package shadeauto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPort is the fixed TCP port of the hub HTTP API.
	DefaultPort = 10123
	// DefaultTimeout bounds every hub call. A timed-out call is ErrUnreachable.
	DefaultTimeout = 5 * time.Second

	// Open and Close map to bottom rail positions. 0 = fully closed.
	PositionClosed = 0
	PositionOpen   = 100
)

// Client is the request/response wrapper around the three hub operations.
// Implementations are stateless across calls.
type Client interface {
	// Register probes the hub and returns its thing name.
	Register(ctx context.Context) (string, error)
	// Discover registers with the hub and enumerates its shades,
	// sorted by UID.
	Discover(ctx context.Context) ([]ShadeDescriptor, error)
	// Status fetches position and raw battery for every shade on the hub.
	Status(ctx context.Context) ([]ShadeStatus, error)
	// FetchStatus fetches the status of a single shade.
	// Returns ErrNotFound if the hub no longer reports the shade.
	FetchStatus(ctx context.Context, uid string) (*ShadeStatus, error)
	// Control moves a shade's bottom rail to position 0..100.
	// Returns ErrRejected, before any request is sent, for an
	// out-of-range position.
	Control(ctx context.Context, uid string, position int) error
}

type HTTPClient struct {
	host    string
	baseURL string
	client  *http.Client
	now     func() time.Time

	logger *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// CreateHTTPClient builds a Client for the hub at host:port.
// A timeout of 0 selects DefaultTimeout.
func CreateHTTPClient(host string, port uint, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if port == 0 {
		port = DefaultPort
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		host:    host,
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client: &http.Client{
			Timeout: timeout,
		},
		now:    time.Now,
		logger: logger.With(zap.String("hub", host)),
	}
}

func (c *HTTPClient) Host() string {
	return c.host
}

func (c *HTTPClient) Register(ctx context.Context) (string, error) {
	raw, err := c.post(ctx, "/NM/v1/registration", map[string]any{
		"Timestamp": c.now().Unix(),
	})
	if err != nil {
		return "", err
	}
	var reg registrationResponse
	if err := json.Unmarshal(raw, &reg); err != nil {
		return "", protocolError(err)
	}
	return reg.thingName(), nil
}

func (c *HTTPClient) Discover(ctx context.Context) ([]ShadeDescriptor, error) {
	thingName, err := c.Register(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.post(ctx, "/NM/v1/GetAllPeripheral", map[string]any{
		"ThingName": thingName,
		"TaskID":    1,
		"Timestamp": c.now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	node, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	var shades []ShadeDescriptor
	for _, p := range collectPeripherals(node) {
		desc := peripheralToDescriptor(p)
		if desc.UID == "" {
			continue
		}
		shades = append(shades, desc)
	}
	sort.Slice(shades, func(i, j int) bool { return shades[i].UID < shades[j].UID })
	return shades, nil
}

func (c *HTTPClient) Status(ctx context.Context) ([]ShadeStatus, error) {
	raw, err := c.post(ctx, "/NM/v1/status", map[string]any{
		"Timestamp": c.now().Unix(),
	})
	if err != nil {
		return nil, err
	}
	node, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	// The hub may report a shade in several fragments. Merge by UID,
	// later fragments win per field.
	byUID := make(map[string]*ShadeStatus)
	var order []string
	for _, p := range collectPeripherals(node) {
		fragment := peripheralToStatus(p)
		if fragment.UID == "" {
			continue
		}
		cur, ok := byUID[fragment.UID]
		if !ok {
			st := fragment
			byUID[fragment.UID] = &st
			order = append(order, fragment.UID)
			continue
		}
		if fragment.Name != "" {
			cur.Name = fragment.Name
		}
		if fragment.Position != nil {
			cur.Position = fragment.Position
		}
		if fragment.RawBattery != nil {
			cur.RawBattery = fragment.RawBattery
		}
	}
	statuses := make([]ShadeStatus, 0, len(order))
	for _, uid := range order {
		statuses = append(statuses, *byUID[uid])
	}
	return statuses, nil
}

func (c *HTTPClient) FetchStatus(ctx context.Context, uid string) (*ShadeStatus, error) {
	statuses, err := c.Status(ctx)
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		if statuses[i].UID == uid {
			return &statuses[i], nil
		}
	}
	return nil, fmt.Errorf("%w: uid %s", ErrNotFound, uid)
}

func (c *HTTPClient) Control(ctx context.Context, uid string, position int) error {
	if position < PositionClosed || position > PositionOpen {
		return fmt.Errorf("%w: position %d out of range 0-100", ErrRejected, position)
	}
	_, err := c.post(ctx, "/NM/v1/control", map[string]any{
		"PeripheralUID":      uidPayload(uid),
		"TaskID":             1,
		"Timestamp":          c.now().Unix(),
		"BottomRailPosition": position,
	})
	return err
}

func (c *HTTPClient) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, protocolError(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, protocolError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("hub request", zap.String("path", path))
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrProtocol, resp.Status)
	}
	// The hub often replies without a proper content-type, so the body is
	// read as-is and parsed as JSON regardless.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unreachable(err)
	}
	return raw, nil
}

func decodeEnvelope(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, protocolError(err)
	}
	return node, nil
}

// uidPayload sends numeric UIDs as numbers, matching what the hub firmware
// expects, while passing non-numeric UIDs through untouched.
func uidPayload(uid string) any {
	var n int64
	if _, err := fmt.Sscanf(uid, "%d", &n); err == nil && fmt.Sprint(n) == uid {
		return n
	}
	return uid
}
