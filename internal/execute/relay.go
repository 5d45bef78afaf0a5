package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codedeck/backend/internal/history"
	"github.com/codedeck/backend/internal/protocol"
	"github.com/codedeck/backend/internal/room"
)

const (
	// MissingCredentialsMessage is shown verbatim to users when the server
	// has no JDoodle credentials configured.
	MissingCredentialsMessage = "JDoodle API credentials missing on server."

	// DefaultErrorMessage stands in when the collaborator gives us nothing
	// better to show.
	DefaultErrorMessage = "An error occurred while executing your code."

	// NoOutputPlaceholder replaces an empty execution result.
	NoOutputPlaceholder = "No output returned"
)

var ErrMissingCredentials = errors.New(MissingCredentialsMessage)

// ServiceError carries the best user-visible message extracted from a
// failed or unreachable execution collaborator.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

// Broadcaster fans an event out to every connection in a room.
type Broadcaster interface {
	ToRoom(roomID string, event protocol.Event, payload any)
}

// Request is the /run body, forwarded to the collaborator with credentials
// attached. VersionIndex is opaque and passed through untouched.
type Request struct {
	Script       string `json:"script"`
	Stdin        string `json:"stdin"`
	Language     string `json:"language" validate:"required"`
	VersionIndex any    `json:"versionIndex"`
	RoomID       string `json:"roomId,omitempty"`
}

type jdoodlePayload struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Script       string `json:"script"`
	Stdin        string `json:"stdin"`
	Language     string `json:"language"`
	VersionIndex any    `json:"versionIndex"`
}

// Settings carries the execution collaborator's endpoint and credentials.
type Settings struct {
	ClientID     string
	ClientSecret string
	URL          string
	Timeout      time.Duration
}

// Relay forwards run requests to the JDoodle execution service, records the
// outcome in the room's output field and the run history, and fans the
// result out to the room. One request is at-most-once; nothing is retried
// or cancelled on disconnect.
type Relay struct {
	cfg         Settings
	client      *http.Client
	rooms       *room.Store
	broadcaster Broadcaster
	runs        *history.Store
}

func NewRelay(cfg Settings, rooms *room.Store, broadcaster Broadcaster, runs *history.Store) *Relay {
	return &Relay{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		rooms:       rooms,
		broadcaster: broadcaster,
		runs:        runs,
	}
}

// Execute issues one synchronous call to the collaborator. On success the
// raw response body is returned for HTTP pass-through; either way the
// room's output is updated and OUTPUT_CHANGE broadcast, so every member
// sees the same server-confirmed result.
func (r *Relay) Execute(ctx context.Context, req Request) ([]byte, error) {
	if r.cfg.ClientID == "" || r.cfg.ClientSecret == "" {
		slog.Error("execution request rejected: credentials not configured")
		r.publishOutput(req.RoomID, MissingCredentialsMessage)
		return nil, ErrMissingCredentials
	}

	started := time.Now()
	body, err := r.call(ctx, req)
	duration := time.Since(started)

	if err != nil {
		var svcErr *ServiceError
		if !errors.As(err, &svcErr) {
			svcErr = &ServiceError{Message: DefaultErrorMessage}
		}
		slog.Error("execution failed", "room", req.RoomID, "language", req.Language, "err", err)
		r.publishOutput(req.RoomID, svcErr.Message)
		r.record(req, history.StatusError, svcErr.Message, duration)
		return nil, svcErr
	}

	output := extractOutput(body)
	slog.Info("execution succeeded",
		"room", req.RoomID, "language", req.Language, "duration", duration)
	r.publishOutput(req.RoomID, output)
	r.record(req, history.StatusOK, output, duration)
	return body, nil
}

func (r *Relay) call(ctx context.Context, req Request) ([]byte, error) {
	payload := jdoodlePayload{
		ClientID:     r.cfg.ClientID,
		ClientSecret: r.cfg.ClientSecret,
		Script:       req.Script,
		Stdin:        req.Stdin,
		Language:     req.Language,
		VersionIndex: req.VersionIndex,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal jdoodle payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build jdoodle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, &ServiceError{Message: DefaultErrorMessage}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Message: DefaultErrorMessage}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Message: extractError(respBody)}
	}
	return respBody, nil
}

// publishOutput writes the result into the room document and broadcasts it.
// Callers without a room context skip both paths and only get the direct
// response.
func (r *Relay) publishOutput(roomID, output string) {
	if roomID == "" {
		return
	}
	if err := r.rooms.UpdateField(roomID, room.FieldOutput, output); err != nil {
		slog.Warn("output for missing room dropped", "room", roomID)
		return
	}
	r.broadcaster.ToRoom(roomID, protocol.EventOutputChange, protocol.OutputChangePayload{Output: output})
}

func (r *Relay) record(req Request, status, output string, duration time.Duration) {
	if r.runs == nil {
		return
	}
	err := r.runs.RecordRun(history.Run{
		ID:          uuid.NewString(),
		RoomID:      req.RoomID,
		Language:    req.Language,
		ScriptBytes: len(req.Script),
		Status:      status,
		Output:      output,
		DurationMS:  duration.Milliseconds(),
	})
	if err != nil {
		slog.Error("failed to record run", "room", req.RoomID, "err", err)
	}
}

// extractOutput pulls the collaborator's output field, trimmed, with the
// placeholder substituted for empty results.
func extractOutput(body []byte) string {
	var parsed struct {
		Output string `json:"output"`
	}
	_ = json.Unmarshal(body, &parsed)

	output := strings.TrimSpace(parsed.Output)
	if output == "" {
		return NoOutputPlaceholder
	}
	return output
}

// extractError mirrors the frontend's expectation: prefer the
// collaborator's error field, fall back to the generic message.
func extractError(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)

	if parsed.Error != "" {
		return parsed.Error
	}
	return DefaultErrorMessage
}
