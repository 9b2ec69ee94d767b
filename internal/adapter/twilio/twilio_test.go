package twilio

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetch_UsesBasicAuth(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	c := NewMediaClient("AC123", "secret", time.Second, 1024, discardLogger())
	c.httpClient = srv.Client()
	c.authHost = "127.0.0.1"

	m, err := c.Fetch(context.Background(), srv.URL+"/Media/ME1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), m.Data)
	assert.Equal(t, "image/jpeg", m.ContentType)
}

func TestFetch_CredentialsOnlyForMediaHost(t *testing.T) {
	var gotAuth []bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		gotAuth = append(gotAuth, ok)
		w.Write([]byte("jpeg"))
	})
	tlsSrv := httptest.NewTLSServer(handler)
	defer tlsSrv.Close()
	plainSrv := httptest.NewServer(handler)
	defer plainSrv.Close()

	c := NewMediaClient("AC123", "secret", time.Second, 1024, discardLogger())
	c.httpClient = tlsSrv.Client()

	// Default media host: a webhook-supplied URL elsewhere gets no credentials.
	_, err := c.Fetch(context.Background(), tlsSrv.URL+"/evil")
	require.NoError(t, err)

	// Matching host but plain HTTP.
	c.authHost = "127.0.0.1"
	_, err = c.Fetch(context.Background(), plainSrv.URL+"/Media/ME1")
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false}, gotAuth)
}

func TestFetch_Errors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"too large", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte(strings.Repeat("x", 2048))) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := NewMediaClient("", "", time.Second, 1024, discardLogger())
			_, err := c.Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, domain.IsDependency(err))
		})
	}
}

func TestFetch_Unreachable(t *testing.T) {
	c := NewMediaClient("", "", 100*time.Millisecond, 1024, discardLogger())
	_, err := c.Fetch(context.Background(), "http://127.0.0.1:1/media")
	assert.True(t, domain.IsDependency(err))
}

func TestMessagingResponse(t *testing.T) {
	out, err := MessagingResponse("Image received! <3 & more")
	require.NoError(t, err)
	assert.Equal(t,
		`<?xml version="1.0" encoding="UTF-8"?>`+"\n"+`<Response><Message>Image received! &lt;3 &amp; more</Message></Response>`,
		string(out))

	out, err = MessagingResponse()
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Response></Response>")
}
