package hat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hubofallthings/hatsync/internal/records"
	appErrors "github.com/hubofallthings/hatsync/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, Resource) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	client := NewClient(Config{Scheme: "http"}, WithHTTPClient(srv.Client()))
	return client, Resource{Domain: u.Host, Source: "rumpel", Table: "notablesv1"}
}

func TestClientFetchSuccess(t *testing.T) {
	client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v2.6/data/rumpel/notablesv1", r.URL.Path)
		require.Equal(t, "50", r.URL.Query().Get("take"))
		require.Equal(t, "updated_time", r.URL.Query().Get("orderBy"))
		require.Equal(t, "descending", r.URL.Query().Get("ordering"))
		require.Equal(t, "old-token", r.Header.Get(TokenHeader))

		w.Header().Set(TokenHeader, "new-token")
		_, _ = io.WriteString(w, `[{"endpoint":"rumpel/notablesv1","recordId":"r1","data":{"message":"hi"}}]`)
	})

	page, err := client.Fetch(context.Background(), res, "old-token", FetchOptions{Take: 50, OrderBy: "updated_time"})
	require.NoError(t, err)
	require.Equal(t, "new-token", page.Token)
	require.Len(t, page.Records, 1)
	require.Equal(t, "r1", page.Records[0].RecordID)
	require.JSONEq(t, `{"message":"hi"}`, string(page.Records[0].Data))
}

func TestClientFetchEmptyArray(t *testing.T) {
	client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})

	page, err := client.Fetch(context.Background(), res, "token", FetchOptions{})
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.Empty(t, page.Token, "echoing the same token is not a renewal")
}

func TestClientFetchErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   *appErrors.AppError
	}{
		{"not found", http.StatusNotFound, `{"error":"Not Found"}`, appErrors.ErrTableDoesNotExist},
		{"unauthorized", http.StatusUnauthorized, ``, appErrors.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ``, appErrors.ErrUnauthorized},
		{"server error", http.StatusInternalServerError, `boom`, appErrors.ErrNetwork},
		{"object body", http.StatusOK, `{"records":[]}`, appErrors.ErrDecode},
		{"null body", http.StatusOK, `null`, appErrors.ErrDecode},
		{"garbage body", http.StatusOK, `<html>`, appErrors.ErrDecode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(TokenHeader, "renewed")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})

			page, err := client.Fetch(context.Background(), res, "token", FetchOptions{})
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, "renewed", page.Token, "renewed token must survive failures")
		})
	}
}

func TestClientFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	srv.Close()

	client := NewClient(Config{Scheme: "http"})
	_, err = client.Fetch(context.Background(), Resource{Domain: u.Host, Source: "rumpel", Table: "notablesv1"}, "token", FetchOptions{})
	require.ErrorIs(t, err, appErrors.ErrNetwork)
}

func TestClientRejectsInvalidResource(t *testing.T) {
	client := NewClient(Config{})

	_, err := client.Fetch(context.Background(), Resource{Domain: "https://bad", Source: "rumpel", Table: "t"}, "token", FetchOptions{})
	require.ErrorIs(t, err, appErrors.ErrBadRequest)

	_, err = client.Fetch(context.Background(), Resource{Domain: "alice.hat.direct", Source: "../x", Table: "t"}, "token", FetchOptions{})
	require.ErrorIs(t, err, appErrors.ErrBadRequest)
}

func TestClientCreateTable(t *testing.T) {
	var received records.TableSchema
	client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/data/table", r.URL.Path)
		require.Equal(t, "token", r.Header.Get(TokenHeader))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set(TokenHeader, "renewed")
		w.WriteHeader(http.StatusCreated)
	})

	renewed, err := client.CreateTable(context.Background(), res, records.Notes.Schema, "token")
	require.NoError(t, err)
	require.Equal(t, "renewed", renewed)
	require.Equal(t, "notablesv1", received.Name)
	require.Equal(t, "rumpel", received.Source)
	require.NotEmpty(t, received.SubTables)
}

func TestClientCreateTableConflictIsSuccess(t *testing.T) {
	client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := client.CreateTable(context.Background(), res, records.Notes.Schema, "token")
	require.NoError(t, err)
}

func TestClientCreateTableFailures(t *testing.T) {
	client, res := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := client.CreateTable(context.Background(), res, records.Notes.Schema, "token")
	require.ErrorIs(t, err, appErrors.ErrProvisionFailed)
	require.Equal(t, appErrors.ErrProvisionFailed.Code, appErrors.Code(err))

	client, res = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err = client.CreateTable(context.Background(), res, records.Notes.Schema, "token")
	require.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
