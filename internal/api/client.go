package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/banshee-data/myo.mouse/internal/db"
	"github.com/banshee-data/myo.mouse/internal/emg/pipeline"
	"github.com/banshee-data/myo.mouse/internal/httputil"
)

// Client calls a running server's control routes.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at base, e.g.
// "http://localhost:8080". A nil hc uses http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) post(path string, v interface{}) error {
	resp, err := c.http.Post(c.base+path, "application/json", http.NoBody)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return httputil.DecodeJSON(resp, v)
}

func (c *Client) get(path string, v interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return httputil.DecodeJSON(resp, v)
}

// Start begins a new session and returns its initial status.
func (c *Client) Start() (pipeline.Status, error) {
	var st pipeline.Status
	err := c.post("/api/start", &st)
	return st, err
}

// Stop ends the active session and returns its final status.
func (c *Client) Stop() (pipeline.Status, error) {
	var st pipeline.Status
	err := c.post("/api/stop", &st)
	return st, err
}

// State returns the lifecycle state.
func (c *Client) State() (StateResponse, error) {
	var st StateResponse
	err := c.get("/api/state", &st)
	return st, err
}

// Status returns the counters of the most recent session.
func (c *Client) Status() (pipeline.Status, error) {
	var st pipeline.Status
	err := c.get("/api/status", &st)
	return st, err
}

// Session returns the logged summary of one session.
func (c *Client) Session(id string) (db.SessionSummary, error) {
	var sum db.SessionSummary
	err := c.get("/api/sessions/"+id, &sum)
	return sum, err
}

// Retrain fits a new model on the server and returns its summary.
func (c *Client) Retrain() (ModelResponse, error) {
	var m ModelResponse
	err := c.post("/api/model/retrain", &m)
	return m, err
}
