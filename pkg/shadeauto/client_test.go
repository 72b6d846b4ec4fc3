package shadeauto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientFor(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return CreateHTTPClient(u.Hostname(), uint(port), 2*time.Second, nil), srv
}

func TestDiscoverParsesNestedPeripherals(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/registration", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "Timestamp")
		// no content-type on purpose, mimicking hub firmware
		fmt.Fprint(w, `{"ThingName":"Hub42"}`)
	})
	mux.HandleFunc("/NM/v1/GetAllPeripheral", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Hub42", body["ThingName"])
		// shade entries nested at different depths
		fmt.Fprint(w, `{"Group":{"PeripheralList":[
			{"PeripheralUID":42,"Name":"Deck Shade","RoomID":3},
			{"Inner":{"PeripheralUID":7,"DisplayName":"Kitchen"}}
		]}}`)
	})

	client, _ := testClientFor(t, mux)

	shades, err := client.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, shades, 2)
	// sorted by UID
	assert.Equal(t, "42", shades[0].UID)
	assert.Equal(t, "Deck Shade", shades[0].Name)
	assert.Equal(t, int64(3), shades[0].RoomID)
	assert.Equal(t, "7", shades[1].UID)
	assert.Equal(t, "Kitchen", shades[1].Name)
}

func TestStatusMergesFragmentsByUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"PeripheralStatus":[
			{"PeripheralUID":42,"BottomRailPosition":40},
			{"PeripheralUID":42,"BatteryVoltage":3.9,"Name":"Deck Shade"},
			{"PeripheralUID":7,"BottomRailPosition":0,"BatteryVoltage":88}
		]}`)
	})

	client, _ := testClientFor(t, mux)

	statuses, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	deck := statuses[0]
	assert.Equal(t, "42", deck.UID)
	require.NotNil(t, deck.Position)
	assert.Equal(t, 40, *deck.Position)
	require.NotNil(t, deck.RawBattery)
	assert.InDelta(t, 3.9, *deck.RawBattery, 0.001)
	assert.Equal(t, "Deck Shade", deck.Name)
}

func TestFetchStatusNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"PeripheralStatus":[{"PeripheralUID":42,"BottomRailPosition":40}]}`)
	})

	client, _ := testClientFor(t, mux)

	st, err := client.FetchStatus(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", st.UID)

	_, err = client.FetchStatus(context.Background(), "99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestControlSendsBottomRailPosition(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/control", func(w http.ResponseWriter, r *http.Request) {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		require.NoError(t, dec.Decode(&got))
		fmt.Fprint(w, `{}`)
	})

	client, _ := testClientFor(t, mux)

	require.NoError(t, client.Control(context.Background(), "42", 60))
	assert.Equal(t, json.Number("42"), got["PeripheralUID"])
	assert.Equal(t, json.Number("60"), got["BottomRailPosition"])
	assert.Equal(t, json.Number("1"), got["TaskID"])
}

func TestControlRejectsOutOfRangeBeforeRequest(t *testing.T) {
	called := false
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/control", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	client, _ := testClientFor(t, mux)

	err := client.Control(context.Background(), "42", 150)
	assert.ErrorIs(t, err, ErrRejected)
	err = client.Control(context.Background(), "42", -1)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, called, "no request may be sent for an invalid position")
}

func TestErrorClassification(t *testing.T) {
	// unreachable: nothing listening
	client := CreateHTTPClient("127.0.0.1", 1, 200*time.Millisecond, nil)
	_, err := client.Register(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)

	// protocol error: garbage body
	mux := http.NewServeMux()
	mux.HandleFunc("/NM/v1/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	})
	badBody, _ := testClientFor(t, mux)
	_, err = badBody.Status(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)

	// protocol error: unexpected HTTP status
	errMux := http.NewServeMux()
	errMux.HandleFunc("/NM/v1/status", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	badStatus, _ := testClientFor(t, errMux)
	_, err = badStatus.Status(context.Background())
	assert.ErrorIs(t, err, ErrProtocol)

	// timeout behaves as unreachable
	slowMux := http.NewServeMux()
	slowMux.HandleFunc("/NM/v1/registration", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, `{}`)
	})
	slowSrv := httptest.NewServer(slowMux)
	t.Cleanup(slowSrv.Close)
	u, _ := url.Parse(slowSrv.URL)
	port, _ := strconv.Atoi(u.Port())
	slow := CreateHTTPClient(u.Hostname(), uint(port), 100*time.Millisecond, nil)
	_, err = slow.Register(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.False(t, errors.Is(err, ErrProtocol))
}
