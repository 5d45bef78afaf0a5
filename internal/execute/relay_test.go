package execute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedeck/backend/internal/protocol"
	"github.com/codedeck/backend/internal/room"
)

type capturedBroadcast struct {
	roomID  string
	event   protocol.Event
	payload any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []capturedBroadcast
}

func (f *fakeBroadcaster) ToRoom(roomID string, event protocol.Event, payload any) {
	f.mu.Lock()
	f.calls = append(f.calls, capturedBroadcast{roomID: roomID, event: event, payload: payload})
	f.mu.Unlock()
}

func (f *fakeBroadcaster) captured() []capturedBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedBroadcast(nil), f.calls...)
}

func newTestRelay(t *testing.T, serviceURL string) (*Relay, *room.Store, *fakeBroadcaster) {
	t.Helper()

	rooms := room.NewStore()
	broadcaster := &fakeBroadcaster{}
	relay := NewRelay(Settings{
		ClientID:     "id",
		ClientSecret: "secret",
		URL:          serviceURL,
		Timeout:      5 * time.Second,
	}, rooms, broadcaster, nil)
	return relay, rooms, broadcaster
}

func TestExecuteMissingCredentials(t *testing.T) {
	rooms := room.NewStore()
	rooms.GetOrCreate("r1")
	broadcaster := &fakeBroadcaster{}
	relay := NewRelay(Settings{}, rooms, broadcaster, nil)

	_, err := relay.Execute(context.Background(), Request{
		Script:   "print(1)",
		Language: "python3",
		RoomID:   "r1",
	})
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, MissingCredentialsMessage, err.Error())

	// Participants still see the failure as the room output.
	r, ok := rooms.Get("r1")
	require.True(t, ok)
	assert.Equal(t, MissingCredentialsMessage, r.Snapshot().Output)

	calls := broadcaster.captured()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.EventOutputChange, calls[0].event)
	assert.Equal(t, protocol.OutputChangePayload{Output: MissingCredentialsMessage}, calls[0].payload)
}

func TestExecuteMissingCredentialsNoRoom(t *testing.T) {
	relay := NewRelay(Settings{}, room.NewStore(), &fakeBroadcaster{}, nil)

	_, err := relay.Execute(context.Background(), Request{Script: "x", Language: "python3"})
	require.ErrorIs(t, err, ErrMissingCredentials)
}

func TestExecuteSuccess(t *testing.T) {
	var gotPayload map[string]any
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":"  42\n","statusCode":200,"memory":"9000","cpuTime":"0.01"}`))
	}))
	defer service.Close()

	relay, rooms, broadcaster := newTestRelay(t, service.URL)
	rooms.GetOrCreate("r1")

	body, err := relay.Execute(context.Background(), Request{
		Script:       "console.log(42)",
		Language:     "nodejs",
		VersionIndex: "4",
		RoomID:       "r1",
	})
	require.NoError(t, err)

	// The caller gets the collaborator's raw body.
	var result map[string]any
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "  42\n", result["output"])

	// Credentials attached, request fields forwarded.
	assert.Equal(t, "id", gotPayload["clientId"])
	assert.Equal(t, "secret", gotPayload["clientSecret"])
	assert.Equal(t, "console.log(42)", gotPayload["script"])
	assert.Equal(t, "4", gotPayload["versionIndex"])

	// The room sees the trimmed output.
	r, _ := rooms.Get("r1")
	assert.Equal(t, "42", r.Snapshot().Output)

	calls := broadcaster.captured()
	require.Len(t, calls, 1)
	assert.Equal(t, "r1", calls[0].roomID)
	assert.Equal(t, protocol.OutputChangePayload{Output: "42"}, calls[0].payload)
}

func TestExecuteEmptyOutputPlaceholder(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"   "}`))
	}))
	defer service.Close()

	relay, rooms, _ := newTestRelay(t, service.URL)
	rooms.GetOrCreate("r1")

	_, err := relay.Execute(context.Background(), Request{Language: "python3", RoomID: "r1"})
	require.NoError(t, err)

	r, _ := rooms.Get("r1")
	assert.Equal(t, NoOutputPlaceholder, r.Snapshot().Output)
}

func TestExecuteServiceError(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))
	defer service.Close()

	relay, rooms, broadcaster := newTestRelay(t, service.URL)
	rooms.GetOrCreate("r1")

	_, err := relay.Execute(context.Background(), Request{Language: "python3", RoomID: "r1"})
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "Invalid credentials", svcErr.Message)

	r, _ := rooms.Get("r1")
	assert.Equal(t, "Invalid credentials", r.Snapshot().Output)

	calls := broadcaster.captured()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.EventOutputChange, calls[0].event)
}

func TestExecuteServiceErrorWithoutMessage(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer service.Close()

	relay, rooms, _ := newTestRelay(t, service.URL)
	rooms.GetOrCreate("r1")

	_, err := relay.Execute(context.Background(), Request{Language: "python3", RoomID: "r1"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, DefaultErrorMessage, svcErr.Message)
}

func TestExecuteUnreachableService(t *testing.T) {
	relay, rooms, _ := newTestRelay(t, "http://127.0.0.1:1")
	rooms.GetOrCreate("r1")

	_, err := relay.Execute(context.Background(), Request{Language: "python3", RoomID: "r1"})
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, DefaultErrorMessage, svcErr.Message)
}

func TestExecuteOutputForDeletedRoomDropped(t *testing.T) {
	service := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"late"}`))
	}))
	defer service.Close()

	relay, _, broadcaster := newTestRelay(t, service.URL)

	// Room was garbage collected while the call was in flight.
	_, err := relay.Execute(context.Background(), Request{Language: "python3", RoomID: "gone"})
	require.NoError(t, err)
	assert.Empty(t, broadcaster.captured())
}
