package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseflow/internal/platform/circuit"
	"courseflow/internal/source"
	dErrors "courseflow/pkg/errors"
)

func testConfig(endpoint string) source.Config {
	return source.Config{
		ID:             "source1",
		Endpoint:       endpoint,
		Token:          "tok",
		RateLimitDelay: time.Millisecond,
		MaxRetries:     3,
		Timeout:        5 * time.Second,
	}
}

// newTestClient builds a client against a TLS test server so endpoint
// validation sees an https URL.
func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	opts = append(opts, WithHTTPClient(srv.Client()),
		WithRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}))
	client, err := NewClient(testConfig(srv.URL), opts...)
	require.NoError(t, err)
	return client, srv
}

func TestNewClientRejectsInsecureEndpoint(t *testing.T) {
	_, err := NewClient(source.Config{ID: "s", Endpoint: "http://lms.example.com", Token: "tok"})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConfiguration, dErrors.CodeOf(err))
}

func TestNewClientRejectsEmptyEndpoint(t *testing.T) {
	_, err := NewClient(source.Config{ID: "s", Endpoint: "", Token: "tok"})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeConfiguration, dErrors.CodeOf(err))
}

func TestCallDecodesArray(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok", r.PostFormValue("wstoken"))
		assert.Equal(t, "core_course_get_courses", r.PostFormValue("wsfunction"))
		assert.Equal(t, "json", r.PostFormValue("moodlewsrestformat"))
		assert.Equal(t, "/webservice/rest/server.php", r.URL.Path)

		w.Write([]byte(`[{"id":1,"fullname":"Algebra"},{"id":2,"fullname":"Biology"}]`))
	})

	res, err := client.Call(context.Background(), "core_course_get_courses", nil)
	require.NoError(t, err)
	assert.Len(t, res.Documents, 2)
	assert.Equal(t, 0, res.Retries)

	id, ok := res.Documents[0].Int64("id")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
}

func TestCallUnwrapsEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[{"id":5,"username":"kim"}],"warnings":[]}`))
	})

	res, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)

	name, _ := res.Documents[0].String("username")
	assert.Equal(t, "kim", name)
}

func TestCallWrapsSingleObject(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"completionstatus":{"completed":true},"userid":3}`))
	})

	res, err := client.Call(context.Background(), "core_completion_get_course_completion_status", nil)
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
}

func TestCallErrorEnvelopeFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"exception":"webservice_access_exception","errorcode":"invalidtoken","message":"Invalid token"}`))
	})

	_, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeRemote, dErrors.CodeOf(err))
	assert.Contains(t, err.Error(), "Invalid token")
	assert.Equal(t, int32(1), calls.Load(), "remote logic errors must not retry")
}

func TestCallRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"id":1,"username":"kim"}]`))
	})

	res, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.NoError(t, err)
	assert.Len(t, res.Documents, 1)
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	})

	res, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
}

func TestCallExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTransient, dErrors.CodeOf(err))
	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
}

func TestCallClientErrorStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeRemote, dErrors.CodeOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallObservesCancellationBetweenRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetryPolicy(RetryPolicy{MaxRetries: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}))

	start := time.Now()
	_, err := client.Call(ctx, "core_user_get_users", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "cancellation must not wait out the backoff")
}

func TestCallFailsFastWhenCircuitOpen(t *testing.T) {
	cb := circuit.NewBreaker(1, time.Hour)
	cb.RecordFailure()

	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, WithCircuitBreaker(cb))

	_, err := client.Call(context.Background(), "core_user_get_users", nil)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTransient, dErrors.CodeOf(err))
	assert.Zero(t, calls.Load())
}

func TestTypedCallsInjectCourseParam(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostFormValue("wsfunction") {
		case "core_enrol_get_enrolled_users":
			assert.Equal(t, "17", r.PostFormValue("courseid"))
			w.Write([]byte(`[{"id":3,"username":"kim"}]`))
		case "core_completion_get_course_completion_status":
			assert.Equal(t, "17", r.PostFormValue("courseid"))
			assert.Equal(t, "3", r.PostFormValue("userid"))
			w.Write([]byte(`{"completionstatus":{"completed":true}}`))
		default:
			t.Errorf("unexpected function %s", r.PostFormValue("wsfunction"))
		}
	})

	docs, err := client.EnrolledUsers(context.Background(), 17)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	doc, err := client.CourseCompletion(context.Background(), 17, 3)
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestDecodeResponseInvalidJSON(t *testing.T) {
	_, err := decodeResponse("fn", []byte("<html>not json</html>"))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeRemote, dErrors.CodeOf(err))
}
