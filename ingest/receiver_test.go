package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVerifyToken = "verify-me"

func newReceiverServer(t *testing.T, h *pipelineHarness, publisher Publisher) *httptest.Server {
	t.Helper()
	signer, err := NewSigner("webhook-secret", "")
	require.NoError(t, err)

	rc := NewReceiver(signer, testVerifyToken, publisher, h.pipeline, nil)
	mux := http.NewServeMux()
	rc.RegisterHTTPHandlers("/api/v1/", mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func signedPost(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	signer, err := NewSigner("webhook-secret", "")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Hub-Signature-256", signer.Sign(body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestReceiverHandshake(t *testing.T) {
	h := newPipelineHarness(t)
	srv := newReceiverServer(t, h, nil)

	resp, err := http.Get(srv.URL + "/api/v1/webhook?hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "12345", buf.String())
}

func TestReceiverHandshakeRejectsBadToken(t *testing.T) {
	h := newPipelineHarness(t)
	srv := newReceiverServer(t, h, nil)

	resp, err := http.Get(srv.URL + "/api/v1/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReceiverRejectsBadSignature(t *testing.T) {
	h := newPipelineHarness(t)
	srv := newReceiverServer(t, h, nil)

	body := webhookBody("m1", "promo")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhook", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, h.messenger.dms)
}

func TestReceiverProcessesInline(t *testing.T) {
	h := newPipelineHarness(t)
	require.NoError(t, h.autos.Create(context.Background(), keywordAutomation("auto-1")))
	srv := newReceiverServer(t, h, nil)

	resp := signedPost(t, srv.URL+"/api/v1/webhook", webhookBody("m1", "promo time"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "automation executed", result.Message)
	assert.Len(t, h.messenger.dms, 1)
}

// Malformed payloads must be acknowledged with 200 so the provider stops
// redelivering something that will never parse.
func TestReceiverAcksMalformedPayload(t *testing.T) {
	h := newPipelineHarness(t)
	srv := newReceiverServer(t, h, nil)

	resp := signedPost(t, srv.URL+"/api/v1/webhook", []byte(`{"entry":[]}`))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var result Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.False(t, result.Success)
}

type fakePublisher struct {
	envelopes []*Envelope
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, env *Envelope) error {
	if p.err != nil {
		return p.err
	}
	p.envelopes = append(p.envelopes, env)
	return nil
}

func TestReceiverEnqueuesWhenPublisherConfigured(t *testing.T) {
	h := newPipelineHarness(t)
	pub := &fakePublisher{}
	srv := newReceiverServer(t, h, pub)

	resp := signedPost(t, srv.URL+"/api/v1/webhook", webhookBody("m1", "promo"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, pub.envelopes, 1)
	assert.Equal(t, "webhook", pub.envelopes[0].Source)
	// Enqueue mode never touches the pipeline.
	assert.Empty(t, h.messenger.dms)
}

func TestReceiverReturns503OnEnqueueFailure(t *testing.T) {
	h := newPipelineHarness(t)
	pub := &fakePublisher{err: assert.AnError}
	srv := newReceiverServer(t, h, pub)

	resp := signedPost(t, srv.URL+"/api/v1/webhook", webhookBody("m1", "promo"))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
