package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockHTTPClientQueue(t *testing.T) {
	t.Parallel()

	m := NewMockHTTPClient().
		AddResponse(http.StatusCreated, `{"state":"RUNNING"}`).
		AddErrorResponse(errors.New("connection refused"))

	resp, err := m.Post("http://mouse.local/api/start", "application/json", http.NoBody)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"state":"RUNNING"}`, string(body))

	_, err = m.Get("http://mouse.local/api/state")
	assert.EqualError(t, err, "connection refused")

	_, err = m.Get("http://mouse.local/api/status")
	assert.ErrorIs(t, err, ErrNoResponse)

	require.Len(t, m.Requests, 3)
	assert.Equal(t, http.MethodPost, m.GetRequest(0).Method)
	assert.Equal(t, "application/json", m.GetRequest(0).Header.Get("Content-Type"))
	assert.Equal(t, "/api/status", m.GetRequest(2).URL.Path)
	assert.Nil(t, m.GetRequest(3))
	assert.Nil(t, m.GetRequest(-1))
}

func TestStandardClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		io.WriteString(w, r.Method+" "+r.URL.Path+" "+string(b))
	}))
	defer srv.Close()

	var c HTTPClient = NewStandardClient(nil)
	assert.Same(t, http.DefaultClient, c.(*StandardClient).Client)

	c = NewStandardClient(srv.Client())
	resp, err := c.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "GET /api/state ", string(b))

	resp, err = c.Post(srv.URL+"/api/stop", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "POST /api/stop x", string(b))
}
