package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/proto"
)

// HTTPTransport is the request/response fallback. Its sessions never carry
// pushes, so changes from other devices arrive on the next delta pass.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

type httpError struct {
	Error string      `json:"error"`
	Note  *proto.Note `json:"note,omitempty"`
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	var e httpError
	_ = json.NewDecoder(resp.Body).Decode(&e)
	msg := e.Error
	if msg == "" {
		msg = resp.Status
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, msg)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrValidation, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", common.ErrUnavailable, msg)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}

func (t *HTTPTransport) Connect(ctx context.Context, _ Registration) (*Session, error) {
	resp, err := t.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	return NewSession("", nil, nil), nil
}

func (t *HTTPTransport) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	var (
		resp *http.Response
		err  error
	)
	path := "/notes/" + url.PathEscape(req.NoteID)

	switch req.Kind {
	case models.OpCreate:
		resp, err = t.do(ctx, http.MethodPost, "/notes", map[string]any{
			"id": req.NoteID, "title": req.Payload.Title, "body": req.Payload.Body, "opId": req.OpID,
		})
	case models.OpUpdate:
		resp, err = t.do(ctx, http.MethodPut, path, map[string]any{
			"title": req.Payload.Title, "body": req.Payload.Body, "clientVersion": req.ExpectedVersion, "opId": req.OpID,
		})
	case models.OpDelete:
		q := url.Values{}
		q.Set("clientVersion", strconv.FormatInt(req.ExpectedVersion, 10))
		q.Set("opId", req.OpID)
		resp, err = t.do(ctx, http.MethodDelete, path+"?"+q.Encode(), nil)
	default:
		return nil, fmt.Errorf("%w: unknown operation kind %q", common.ErrValidation, req.Kind)
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out proto.ApplyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode apply response: %w", err)
		}
		if out.Note == nil {
			return nil, errors.New("apply response without note")
		}
		return &ApplyResult{Applied: true, Note: noteFromProto(out.Note)}, nil
	case http.StatusConflict:
		var out httpError
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode conflict response: %w", err)
		}
		if out.Note == nil {
			return nil, errors.New("conflict response without note")
		}
		return &ApplyResult{Applied: false, Note: noteFromProto(out.Note)}, nil
	}
	return nil, statusError(resp)
}

func (t *HTTPTransport) Since(ctx context.Context, ts time.Time) (*Delta, error) {
	path := "/notes"
	if !ts.IsZero() {
		path += "?since=" + url.QueryEscape(ts.UTC().Format(time.RFC3339Nano))
	}

	resp, err := t.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out proto.SinceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}
	return &Delta{Notes: notesFromProto(out.Notes), SyncTime: out.SyncTime.UTC()}, nil
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
