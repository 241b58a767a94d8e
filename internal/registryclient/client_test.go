package registryclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dopamine-pm/dopamine/internal/registryclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...registryclient.Option) (*registryclient.Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	opts = append([]registryclient.Option{registryclient.WithHTTPClient(srv.Client())}, opts...)
	c, err := registryclient.New(srv.URL, opts...)
	require.NoError(t, err)
	return c, srv.Close
}

func TestClient_GetPackage(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/packages/zlib", r.URL.Path)
		json.NewEncoder(w).Encode(registryclient.PackageResource{
			Name:        "zlib",
			Description: "compression library",
			Versions: []registryclient.VersionEntry{
				{Version: "1.3.1", Recipes: []registryclient.RecipeRef{{ID: "abc", Revision: "rev1"}}},
			},
		})
	})
	defer closeFn()

	pkg, err := c.GetPackage(context.Background(), "zlib")
	require.NoError(t, err)
	assert.Equal(t, "zlib", pkg.Name)
	require.Len(t, pkg.Versions, 1)
	assert.Equal(t, "1.3.1", pkg.Versions[0].Version)
}

func TestClient_GetPackage_NotFound(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	defer closeFn()

	_, err := c.GetPackage(context.Background(), "missing")
	require.Error(t, err)
	var rerr *registryclient.RegistryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, registryclient.ErrHTTP, rerr.Type)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
}

func TestClient_GetPackage_RateLimited(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	defer closeFn()

	_, err := c.GetPackage(context.Background(), "zlib")
	require.Error(t, err)
	var rerr *registryclient.RegistryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, registryclient.ErrRateLimit, rerr.Type)
}

func TestClient_SearchPackages_EncodesQuery(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "zlib", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Empty(t, r.URL.Query().Get("regex"))
		json.NewEncoder(w).Encode([]registryclient.PackageSearchEntry{{Name: "zlib"}})
	})
	defer closeFn()

	results, err := c.SearchPackages(context.Background(), registryclient.SearchParams{Query: "zlib", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "zlib", results[0].Name)
}

func TestClient_VersionMismatchRejected(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Dopamine-Api-Version", "v2")
		json.NewEncoder(w).Encode(registryclient.PackageResource{Name: "zlib"})
	})
	defer closeFn()

	_, err := c.GetPackage(context.Background(), "zlib")
	require.Error(t, err)
	var rerr *registryclient.RegistryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, registryclient.ErrVersionMismatch, rerr.Type)
}

func TestClient_PublishRecipe_RequiresAuth(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be reached without a token source")
	})
	defer closeFn()

	_, err := c.PublishRecipe(context.Background(), registryclient.PublishRequest{Name: "zlib", Version: "1.3.1"})
	require.Error(t, err)
	var rerr *registryclient.RegistryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnauthorized, rerr.StatusCode)
}

func TestClient_PublishRecipe_SendsBearerToken(t *testing.T) {
	var gotAuth string
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(registryclient.PublishResult{New: "version", UploadBearerToken: "upload-tok"})
	}, registryclient.WithTokenSource(registryclient.StaticTokenSource("session-tok")))
	defer closeFn()

	result, err := c.PublishRecipe(context.Background(), registryclient.PublishRequest{Name: "zlib", Version: "1.3.1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer session-tok", gotAuth)
	assert.Equal(t, "upload-tok", result.UploadBearerToken)
}

func TestClient_PublishRecipe_GeneratesIdempotencyKey(t *testing.T) {
	var gotKeys []string
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body registryclient.PublishRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotKeys = append(gotKeys, body.IdempotencyKey)
		json.NewEncoder(w).Encode(registryclient.PublishResult{New: "package"})
	}, registryclient.WithTokenSource(registryclient.StaticTokenSource("session-tok")))
	defer closeFn()

	_, err := c.PublishRecipe(context.Background(), registryclient.PublishRequest{Name: "zlib", Version: "1.3.1"})
	require.NoError(t, err)
	_, err = c.PublishRecipe(context.Background(), registryclient.PublishRequest{Name: "zlib", Version: "1.3.1"})
	require.NoError(t, err)

	require.Len(t, gotKeys, 2)
	assert.NotEmpty(t, gotKeys[0])
	assert.NotEmpty(t, gotKeys[1])
	assert.NotEqual(t, gotKeys[0], gotKeys[1], "each unkeyed publish call gets its own idempotency key")

	explicit := "caller-supplied-key"
	_, err = c.PublishRecipe(context.Background(), registryclient.PublishRequest{Name: "zlib", Version: "1.3.1", IdempotencyKey: explicit})
	require.NoError(t, err)
	assert.Equal(t, explicit, gotKeys[2])
}

func TestClient_RefreshAuthToken(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/token", r.URL.Path)
		json.NewEncoder(w).Encode(registryclient.AuthToken{AccessToken: "new-access", RefreshToken: "new-refresh"})
	})
	defer closeFn()

	tok, err := c.RefreshAuthToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
}

func TestClient_UploadArchive(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := registryclient.New(srv.URL, registryclient.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	require.NoError(t, c.UploadArchive(context.Background(), srv.URL+"/upload", "upload-tok", []byte("archive-bytes")))
	assert.Equal(t, []byte("archive-bytes"), gotBody)
	assert.Equal(t, "Bearer upload-tok", gotAuth)
}
