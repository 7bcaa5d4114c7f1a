package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/marionette/internal/client"
)

func TestNewHTTPClient(t *testing.T) {
	c := client.NewHTTPClient(30 * time.Second)
	assert.NotNil(t, c)
}

func TestDoJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Marionette-Engine/1.0", r.Header.Get("User-Agent"))

			var in map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "bob", in["name"])

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":7,"name":"bob"}`))
		},
	))
	defer server.Close()

	cl := client.NewHTTPClient(5 * time.Second)
	resp, err := cl.Do(
		context.Background(), "post", server.URL, []byte(`{"name":"bob"}`),
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, map[string]any{"id": float64(7), "name": "bob"}, resp.Body)
	assert.Equal(t, `{"id":7,"name":"bob"}`, resp.BodyText())
}

func TestBodyTextKeepsRawJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{ "zeta": 1,  "alpha": "a&b <ok>" }`))
		},
	))
	defer server.Close()

	cl := client.NewHTTPClient(5 * time.Second)
	resp, err := cl.Do(context.Background(), "GET", server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a&b <ok>"}`, resp.BodyText())

	decoded := &client.Response{
		Status: http.StatusOK,
		Body:   map[string]any{"q": "x<y"},
	}
	assert.Equal(t, `{"q":"x<y"}`, decoded.BodyText())
	assert.Empty(t, (&client.Response{}).BodyText())
}

func TestDoText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GET", r.Method)
			b, _ := io.ReadAll(r.Body)
			assert.Empty(t, b)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not here"))
		},
	))
	defer server.Close()

	cl := client.NewHTTPClient(5 * time.Second)
	resp, err := cl.Do(context.Background(), "", server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.False(t, resp.OK())
	assert.Equal(t, "not here", resp.Body)
	assert.Equal(t, "not here", resp.BodyText())
}

func TestDoInvalid(t *testing.T) {
	cl := client.NewHTTPClient(5 * time.Second)

	_, err := cl.Do(context.Background(), "FETCH", "http://x", nil)
	assert.ErrorIs(t, err, client.ErrInvalidMethod)

	_, err = cl.Do(context.Background(), "GET", "", nil)
	assert.ErrorIs(t, err, client.ErrURLEmpty)
}

func TestDoTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {},
	))
	url := server.URL
	server.Close()

	cl := client.NewHTTPClient(time.Second)
	_, err := cl.Do(context.Background(), "GET", url, nil)
	assert.Error(t, err)
}

func TestSendJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "PUT", r.Method)
			b, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"x":5}`, string(b))
			w.WriteHeader(http.StatusNoContent)
		},
	))
	defer server.Close()

	cl := client.NewHTTPClient(5 * time.Second)
	resp, err := client.SendJSON(
		context.Background(), cl, "PUT", server.URL, map[string]int{"x": 5},
	)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Nil(t, resp.Body)
}
