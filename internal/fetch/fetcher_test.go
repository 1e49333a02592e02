package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

func testOptions() Options {
	return Options{
		UserAgent:    "prospector-test/1.0",
		MaxAttempts:  3,
		Deadline:     5 * time.Second,
		MaxPages:     3,
		PerHostRate:  1000,
		PerHostBurst: 1000,
	}
}

func target() model.ResolvedTarget {
	return model.ResolvedTarget{Domain: "acmebakery.com", Evidence: []string{"acmebakery.com"}}
}

func TestFetch_ExtractsContactData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			http.NotFound(w, r)
		case "/":
			w.Write([]byte(`<html><body>Welcome to Acme Bakery</body></html>`))
		case "/contact":
			w.Write([]byte(`<html><body>Email us: orders@acmebakery.com or call +1 555-010-0123</body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	res, err := f.Fetch(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, "acmebakery.com", res.Domain)
	assert.Contains(t, res.Emails, "orders@acmebakery.com")
	require.NotEmpty(t, res.Phones)
	assert.GreaterOrEqual(t, res.PagesFetched, 2)

	// Lineage points at the page the email came from.
	var emailSource *model.FieldSource
	for i := range res.Sources {
		if res.Sources[i].Field == "email" {
			emailSource = &res.Sources[i]
		}
	}
	require.NotNil(t, emailSource)
	assert.Equal(t, srv.URL+"/contact", emailSource.SourceURL)
}

func TestFetch_RetriesTransientThenSucceeds(t *testing.T) {
	var homeCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/" {
			if homeCalls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("<html>info@acmebakery.com</html>"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	res, err := f.Fetch(context.Background(), target())
	require.NoError(t, err)
	assert.Equal(t, int32(3), homeCalls.Load())
	assert.Contains(t, res.Emails, "info@acmebakery.com")
}

func TestFetch_FatalStatusNotRetried(t *testing.T) {
	var homeCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		homeCalls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	_, err := f.Fetch(context.Background(), target())
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Equal(t, int32(1), homeCalls.Load(), "4xx must not be retried")
}

func TestFetch_RobotsDenialIsFatal(t *testing.T) {
	var pageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		pageCalls.Add(1)
		w.Write([]byte("content"))
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	_, err := f.Fetch(context.Background(), target())
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
	assert.Zero(t, pageCalls.Load(), "no page may be fetched after a robots denial")
}

func TestFetch_BlockDetectionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("cf-ray", "abc")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	_, err := f.Fetch(context.Background(), target())
	require.Error(t, err)
	assert.True(t, resilience.IsFatal(err))
}

func TestFetch_MaxPagesBound(t *testing.T) {
	var pageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		pageCalls.Add(1)
		w.Write([]byte("<html>page</html>"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxPages = 2
	f := New(opts).WithBaseURL(srv.URL)
	res, err := f.Fetch(context.Background(), target())
	require.NoError(t, err)
	assert.Equal(t, 2, res.PagesFetched)
	assert.Equal(t, int32(2), pageCalls.Load())
}

func TestFetch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var pageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		pageCalls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxAttempts = 1
	opts.BreakerThreshold = 2
	opts.BreakerReset = time.Hour
	f := New(opts).WithBaseURL(srv.URL)

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background(), target())
		require.Error(t, err)
	}
	require.Equal(t, int32(2), pageCalls.Load())

	// The host's circuit is open: the next fetch fails fast without another
	// request.
	_, err := f.Fetch(context.Background(), target())
	require.Error(t, err)
	assert.True(t, eris.Is(err, resilience.ErrCircuitOpen))
	assert.Equal(t, int32(2), pageCalls.Load())
}

func TestFetch_GoneStatusDoesNotOpenBreaker(t *testing.T) {
	var pageCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		pageCalls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.BreakerThreshold = 2
	f := New(opts).WithBaseURL(srv.URL)

	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), target())
		require.Error(t, err)
		assert.False(t, eris.Is(err, resilience.ErrCircuitOpen))
	}
	assert.Equal(t, int32(3), pageCalls.Load(), "fatal page statuses must not trip the host circuit")
}

func TestFetch_DecodesDeclaredCharset(t *testing.T) {
	latin1 := []byte("Padaria S\xe3o Jo\xe3o, fale conosco: contato@padariasaojoao.com.br ou (11) 4002-8922")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write(latin1)
	}))
	defer srv.Close()

	f := New(testOptions()).WithBaseURL(srv.URL)
	res, err := f.Fetch(context.Background(), target())
	require.NoError(t, err)
	assert.Contains(t, res.Emails, "contato@padariasaojoao.com.br")
	require.NotEmpty(t, res.Phones)
}

func TestDecodeBody(t *testing.T) {
	latin1Resp := &http.Response{Header: http.Header{"Content-Type": []string{"text/html; charset=iso-8859-1"}}}
	assert.Equal(t, "São Paulo", string(decodeBody(latin1Resp, []byte("S\xe3o Paulo"))))

	// No declared charset passes through untouched.
	plainResp := &http.Response{Header: http.Header{"Content-Type": []string{"text/html"}}}
	assert.Equal(t, "S\xe3o Paulo", string(decodeBody(plainResp, []byte("S\xe3o Paulo"))))
}

func TestFetch_DeadlineBoundsWallClock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("slow"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.Deadline = 50 * time.Millisecond
	f := New(opts).WithBaseURL(srv.URL)

	start := time.Now()
	_, err := f.Fetch(context.Background(), target())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
