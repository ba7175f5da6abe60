package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"device-checkin/internal/auth"
	"device-checkin/internal/checkin"
)

// MockHTTPClient is a mock implementation of HTTPClientInterface for testing
type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func jsonResponse(t *testing.T, v interface{}) *Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return &Response{StatusCode: http.StatusOK, Body: body}
}

func TestNewCheckinTransport(t *testing.T) {
	httpClient := &MockHTTPClient{}
	logger := logrus.New()

	transport := NewCheckinTransport(httpClient, "en_US", logger)

	assert.NotNil(t, transport)
	assert.Equal(t, httpClient, transport.client)
	assert.Equal(t, logger, transport.logger)
	assert.Equal(t, DefaultUserAgent, transport.userAgent)

	assert.NotNil(t, NewCheckinTransport(httpClient, "", nil).logger)
}

func TestCheckinTransport_FirstCheckin(t *testing.T) {
	httpClient := &MockHTTPClient{}
	transport := NewCheckinTransport(httpClient, "de_DE", logrus.New())

	httpClient.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
		body, ok := req.Body.(*CheckinRequest)
		return req.Method == http.MethodPost &&
			req.Path == CheckinPath &&
			req.Signer == nil &&
			ok &&
			body.ClientID == "client-1" &&
			body.DeviceID == "" &&
			body.Locale == "de_DE" &&
			body.UserAgent == DefaultUserAgent
	})).Return(jsonResponse(t, CheckinResponse{
		DeviceID:    "dev_1",
		SecretToken: "tok",
		Digest:      "d1",
		VersionInfo: "v1",
		TimeMs:      1700000000123,
	}), nil)

	cred, err := transport.PerformCheckin(context.Background(), checkin.Credential{}, "client-1")
	require.NoError(t, err)

	assert.Equal(t, checkin.Credential{
		DeviceID:              "dev_1",
		SecretToken:           "tok",
		Digest:                "d1",
		VersionInfo:           "v1",
		LastCheckinTimeMillis: 1700000000123,
	}, cred)
	httpClient.AssertExpectations(t)
}

func TestCheckinTransport_SignsWithExistingCredential(t *testing.T) {
	httpClient := &MockHTTPClient{}
	transport := NewCheckinTransport(httpClient, "en_US", logrus.New())
	existing := checkin.Credential{DeviceID: "dev_1", SecretToken: "old", Digest: "d0", VersionInfo: "v0"}

	httpClient.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
		body := req.Body.(*CheckinRequest)
		signer, ok := req.Signer.(*auth.HMACAuthenticator)
		return ok &&
			signer.GetDeviceID() == "dev_1" &&
			body.DeviceID == "dev_1" &&
			body.Digest == "d0" &&
			body.VersionInfo == "v0"
	})).Return(jsonResponse(t, CheckinResponse{DeviceID: "dev_1", SecretToken: "new", TimeMs: 1}), nil)

	cred, err := transport.PerformCheckin(context.Background(), existing, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.SecretToken)
	httpClient.AssertExpectations(t)
}

func TestCheckinTransport_MissingTimeUsesLocalClock(t *testing.T) {
	httpClient := &MockHTTPClient{}
	transport := NewCheckinTransport(httpClient, "en_US", logrus.New())
	now := time.UnixMilli(1800000000000)
	transport.now = func() time.Time { return now }

	httpClient.On("Do", mock.Anything, mock.Anything).
		Return(jsonResponse(t, CheckinResponse{DeviceID: "dev", SecretToken: "tok"}), nil)

	cred, err := transport.PerformCheckin(context.Background(), checkin.Credential{}, "c")
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), cred.LastCheckinTimeMillis)
}

func TestCheckinTransport_Errors(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		err  error
	}{
		{name: "http failure", err: errors.New("connection refused")},
		{name: "empty body", resp: &Response{StatusCode: http.StatusOK}},
		{name: "malformed json", resp: &Response{StatusCode: http.StatusOK, Body: []byte("{")}},
		{name: "missing secret token", resp: &Response{StatusCode: http.StatusOK, Body: []byte(`{"deviceId":"dev"}`)}},
		{name: "missing device id", resp: &Response{StatusCode: http.StatusOK, Body: []byte(`{"secretToken":"tok"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient := &MockHTTPClient{}
			transport := NewCheckinTransport(httpClient, "en_US", logrus.New())
			if tt.resp == nil {
				httpClient.On("Do", mock.Anything, mock.Anything).Return(nil, tt.err)
			} else {
				httpClient.On("Do", mock.Anything, mock.Anything).Return(tt.resp, nil)
			}

			cred, err := transport.PerformCheckin(context.Background(), checkin.Credential{}, "c")
			assert.Error(t, err)
			assert.False(t, cred.Valid())
		})
	}
}

func TestCheckinTransport_AgainstServer(t *testing.T) {
	existing := checkin.Credential{DeviceID: "dev_9", SecretToken: "s3cret"}
	verifier := auth.NewHMACAuthenticator(existing.DeviceID, existing.SecretToken)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != CheckinPath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get(auth.HeaderTimestamp), 10, 64)
		if err != nil || r.Header.Get(auth.HeaderDeviceID) != "dev_9" ||
			verifier.ValidateSignature(body, ts, r.Header.Get(auth.HeaderSignature), time.Now()) != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req CheckinRequest
		if err := json.Unmarshal(body, &req); err != nil || req.ClientID != "client-x" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		json.NewEncoder(w).Encode(CheckinResponse{
			DeviceID:    "dev_9",
			SecretToken: "rotated",
			Digest:      "digest",
			VersionInfo: "v2",
			TimeMs:      42,
		})
	}))
	defer server.Close()

	httpClient := newTestClient(t, server.URL, 0)
	transport := NewCheckinTransport(httpClient, "en_US", logrus.New())

	cred, err := transport.PerformCheckin(context.Background(), existing, "client-x")
	require.NoError(t, err)
	assert.Equal(t, "rotated", cred.SecretToken)
	assert.Equal(t, int64(42), cred.LastCheckinTimeMillis)

	_, err = transport.PerformCheckin(context.Background(), checkin.Credential{DeviceID: "dev_9", SecretToken: "wrong"}, "client-x")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
