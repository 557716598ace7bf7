package surveyetl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nownabe.dev/surveyetl"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(f roundTripperFunc) *http.Client {
	return &http.Client{Transport: f}
}

func slackResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     http.Header{},
	}
}

func testSummary() *surveyetl.Summary {
	return &surveyetl.Summary{
		Job:    "myjob",
		Source: "gs://bucket/survey.csv",
		Tables: []surveyetl.TableResult{
			{Table: "demographics", Stage: surveyetl.StageLoad, Status: surveyetl.StatusOK, Rows: 3},
			{Table: "language_haveworked", Stage: surveyetl.StageLoad, Status: surveyetl.StatusFatal, Err: surveyetl.ErrExternalIO},
		},
	}
}

func TestSlackNotifier(t *testing.T) {
	var got map[string]string

	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		return slackResponse(http.StatusOK, `{"ok":true}`), nil
	})

	n := &surveyetl.SlackNotifier{
		Channel:    "#channel",
		Token:      "token",
		IconEmoji:  ":emoji:",
		Username:   "username",
		HTTPClient: client,
	}

	err := n.Notify(context.Background(), testSummary())
	require.NoError(t, err)

	assert.Equal(t, "#channel", got["channel"])
	assert.Equal(t, ":emoji:", got["icon_emoji"])
	assert.Contains(t, got["text"], "myjob failed to process gs://bucket/survey.csv")
	assert.Contains(t, got["text"], "demographics (load): ok, 3 rows")
	assert.Contains(t, got["text"], "language_haveworked (load): fatal")
}

func TestSlackNotifier_errors(t *testing.T) {
	cases := map[string]roundTripperFunc{
		"status": func(*http.Request) (*http.Response, error) {
			return slackResponse(http.StatusInternalServerError, "oops"), nil
		},
		"not ok": func(*http.Request) (*http.Response, error) {
			return slackResponse(http.StatusOK, `{"ok":false,"error":"channel_not_found"}`), nil
		},
		"transport": func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	for name, rt := range cases {
		rt := rt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			n := &surveyetl.SlackNotifier{Channel: "#channel", Token: "token", HTTPClient: newTestClient(rt)}
			assert.Error(t, n.Notify(context.Background(), testSummary()))
		})
	}
}
