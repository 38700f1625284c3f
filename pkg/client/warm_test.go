package client

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlworks/fetchcache/internal/testutil"
)

func TestWarmCache(t *testing.T) {
	c, origin, _ := newTestClient(t, nil)
	for i := 0; i < 5; i++ {
		origin.SetResponse(fmt.Sprintf("/page/%d", i), testutil.NewJSONResponse(fmt.Sprintf(`{"page": %d}`, i)))
	}

	reqs := make([]WarmRequest, 0, 5)
	for i := 0; i < 5; i++ {
		reqs = append(reqs, WarmRequest{URL: fmt.Sprintf("%s/page/%d", origin.URL(), i)})
	}

	report, err := c.WarmCache(context.Background(), reqs, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Succeeded)
	assert.Zero(t, report.AlreadyCached)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 5, origin.RequestCount())

	// Warming again finds everything fresh.
	report, err = c.WarmCache(context.Background(), reqs, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Succeeded)
	assert.Equal(t, 5, report.AlreadyCached)
	assert.Equal(t, 5, origin.RequestCount(), "fresh entries are not refetched")
}

func TestWarmCacheCollectsFailures(t *testing.T) {
	c, origin, _ := newTestClient(t, nil)
	origin.SetResponse("/ok", testutil.NewJSONResponse(`{"ok": true}`))
	unreachable := "http://127.0.0.1:1/unreachable"

	report, err := c.WarmCache(context.Background(), []WarmRequest{
		{URL: origin.URL() + "/ok"},
		{URL: unreachable},
	}, 2)
	require.NoError(t, err, "individual failures do not fail the run")

	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Error(t, report.Failed[unreachable])
}

func TestWarmCacheEmpty(t *testing.T) {
	c, _, _ := newTestClient(t, nil)

	report, err := c.WarmCache(context.Background(), nil, 4)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestWarmCachePostBodies(t *testing.T) {
	c, origin, _ := newTestClient(t, nil)
	origin.SetHandler("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": []}`))
	})
	url := origin.URL() + "/search"

	report, err := c.WarmCache(context.Background(), []WarmRequest{
		{Method: http.MethodPost, URL: url, Body: []byte(`{"q": "a"}`)},
		{Method: http.MethodPost, URL: url, Body: []byte(`{"q": "b"}`)},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	resp, err := c.Post(context.Background(), url, []byte(`{"q": "a"}`))
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
}
