package lesson

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/emojivm/pkg/shared"
	"github.com/antibyte/emojivm/pkg/vm"
)

func newAPIServer(t *testing.T, issuer *Issuer) *httptest.Server {
	t.Helper()
	api := NewAPI([]*shared.LessonRecord{loadLoops(t)}, NewGrader(vm.DefaultLimits(), issuer), issuer)
	mux := http.NewServeMux()
	api.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPILessons(t *testing.T) {
	srv := newAPIServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/lessons")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lessons []LessonSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lessons))
	require.Len(t, lessons, 1)
	assert.Equal(t, "loops", lessons[0].ID)
	require.Len(t, lessons[0].Steps, 3)
	assert.Equal(t, "📥 0\n🛑\n", lessons[0].Steps[0].StarterSource)

	missing, err := http.Get(srv.URL + "/api/lessons?id=nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPIGradeAndVerify(t *testing.T) {
	issuer := NewIssuer("api-secret", time.Hour)
	srv := newAPIServer(t, issuer)

	resp := postJSON(t, srv.URL+"/api/grade", GradeRequest{LessonID: "loops", StepID: "count", Source: countSource})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var graded GradeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graded))
	assert.True(t, graded.Passed)
	assert.Equal(t, []string{"5"}, graded.Output)
	require.NotNil(t, graded.Snapshot)
	assert.Equal(t, "HALTED", graded.Snapshot.Status)
	require.NotEmpty(t, graded.Receipt)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/receipts/verify", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+graded.Receipt)
	verified, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer verified.Body.Close()
	require.Equal(t, http.StatusOK, verified.StatusCode)
	var rr ReceiptResponse
	require.NoError(t, json.NewDecoder(verified.Body).Decode(&rr))
	assert.Equal(t, "loops", rr.Receipt.LessonID)
	assert.Equal(t, "count", rr.Receipt.StepID)

	bad := postJSON(t, srv.URL+"/api/receipts/verify", map[string]string{"token": graded.Receipt + "x"})
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}

func TestAPIGradeFailures(t *testing.T) {
	srv := newAPIServer(t, nil)

	tests := []struct {
		name   string
		req    GradeRequest
		status int
		passed bool
	}{
		{"wrong output", GradeRequest{LessonID: "loops", StepID: "count", Source: "HALT"}, http.StatusOK, false},
		{"parse error", GradeRequest{LessonID: "loops", StepID: "count", Source: "LOAD"}, http.StatusOK, false},
		{"unknown lesson", GradeRequest{LessonID: "nope", StepID: "count", Source: "HALT"}, http.StatusNotFound, false},
		{"unknown step", GradeRequest{LessonID: "loops", StepID: "nope", Source: "HALT"}, http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/grade", tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			var graded GradeResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&graded))
			assert.Equal(t, tt.passed, graded.Passed)
			assert.Empty(t, graded.Receipt)
		})
	}

	resp, err := http.Post(srv.URL+"/api/grade", "application/json", strings.NewReader(`{"lessonId":`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/grade")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	noIssuer := postJSON(t, srv.URL+"/api/receipts/verify", map[string]string{"token": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, noIssuer.StatusCode)
}
