package httpclient

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"id":"gen-1","usage":{"cost":0.0023}}`

func encodedServer(t *testing.T, seen *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = r.Header.Get("Accept-Encoding")
		switch r.URL.Query().Get("enc") {
		case "br":
			var buf bytes.Buffer
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write([]byte(payload))
			_ = bw.Close()
			w.Header().Set("Content-Encoding", "br")
			_, _ = w.Write(buf.Bytes())
		case "gzip":
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			_, _ = gw.Write([]byte(payload))
			_ = gw.Close()
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(buf.Bytes())
		default:
			_, _ = w.Write([]byte(payload))
		}
	}))
}

func TestDecodingTransport(t *testing.T) {
	for _, enc := range []string{"br", "gzip", "identity"} {
		t.Run(enc, func(t *testing.T) {
			var seen string
			srv := encodedServer(t, &seen)
			defer srv.Close()

			client := NewHTTPClient(&ClientConfig{Timeout: 5 * time.Second})
			resp, err := client.Get(srv.URL + "?enc=" + enc)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, payload, string(body))
			assert.Equal(t, acceptEncoding, seen)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestDecodingTransport_CallerEncodingKept(t *testing.T) {
	var seen string
	srv := encodedServer(t, &seen)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := NewDefaultHTTPClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "identity", seen)
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "45")
	t.Setenv("HTTP_RESPONSE_HEADER_TIMEOUT", "2m")

	cfg := DefaultConfig()
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.ResponseHeaderTimeout)

	t.Setenv("HTTP_TIMEOUT", "soon")
	assert.Equal(t, 300*time.Second, DefaultConfig().Timeout)
}
