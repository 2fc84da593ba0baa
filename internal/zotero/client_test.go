// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package zotero

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/zotexport/pkg/types"
)

const testKey = "k3yk3yk3y"

// testClient returns a client whose API root is ts. The server is closed
// when the test ends.
func testClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	t.Cleanup(ts.Close)
	c := NewClient(testKey, types.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "zotexport/test"})
	c.BaseURL = ts.URL
	return c
}

func TestKeyInfo(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/keys/current", r.URL.Path)
		assert.Equal(t, "3", r.Header.Get("Zotero-API-Version"))
		assert.Equal(t, testKey, r.Header.Get("Zotero-API-Key"))
		assert.Equal(t, "zotexport/test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `{"key":"k3yk3yk3y","userID":13622011,"username":"ada","access":{"user":{"library":true,"files":true}}}`)
	}))

	info, err := testClient(t, ts).KeyInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "13622011", info.UserIDString())
	assert.Equal(t, "ada", info.Username)
	assert.True(t, info.CanReadLibrary())
	assert.True(t, info.Access.User.Files)
	assert.False(t, info.Access.User.Write)
}

func TestResolveUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantID  string
	}{
		{
			name:   "library access",
			status: http.StatusOK,
			body:   `{"userID":42,"username":"ada","access":{"user":{"library":true}}}`,
			wantID: "42",
		},
		{
			name:    "no library access",
			status:  http.StatusOK,
			body:    `{"userID":42,"username":"ada","access":{"user":{"library":false}}}`,
			wantErr: ErrNoLibraryAccess,
		},
		{
			name:    "missing access block",
			status:  http.StatusOK,
			body:    `{"userID":42,"username":"ada"}`,
			wantErr: ErrNoLibraryAccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))

			info, err := testClient(t, ts).ResolveUser(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, info.UserIDString())
		})
	}
}

func TestResolveUserInvalidKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "Invalid key")
	}))

	_, err := testClient(t, ts).ResolveUser(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "Invalid key", se.Body)
	assert.Contains(t, err.Error(), "validating API key")
}

func TestKeyInfoMalformedJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{not json`)
	}))

	_, err := testClient(t, ts).KeyInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing key info")
}
