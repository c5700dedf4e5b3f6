package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkURL = "https://crm.example.test/api/duplicates/clientes"

func setupChecker(t *testing.T) *HTTPDuplicateChecker {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return &HTTPDuplicateChecker{
		URL:    checkURL,
		Client: client,
		Header: http.Header{"Authorization": []string{"Bearer token"}},
	}
}

func TestHTTPDuplicateChecker_Found(t *testing.T) {
	checker := setupChecker(t)

	var received []Row
	httpmock.RegisterResponder(http.MethodPost, checkURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(req.Body).Decode(&received))
		return httpmock.NewStringResponse(http.StatusOK, `{
			"duplicados": [
				{"nuevo": {"nombre": "Acme"}, "existente": {"id": 3, "nombre": "ACME"}, "campos": ["nombre"]}
			]
		}`), nil
	})

	dups, err := checker.CheckDuplicates(context.Background(), []Row{{"nombre": "Acme"}, {"nombre": "Beta"}})

	require.NoError(t, err)
	require.Len(t, dups, 1)
	assert.Equal(t, "Acme", dups[0].Incoming.String("nombre"))
	assert.Equal(t, []string{"nombre"}, dups[0].MatchedFields)
	assert.Len(t, received, 2)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPDuplicateChecker_None(t *testing.T) {
	checker := setupChecker(t)
	httpmock.RegisterResponder(http.MethodPost, checkURL,
		httpmock.NewStringResponder(http.StatusOK, `{"duplicados": []}`))

	dups, err := checker.CheckDuplicates(context.Background(), []Row{{"nombre": "Acme"}})

	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestHTTPDuplicateChecker_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantText string
	}{
		{name: "server error with message", status: http.StatusInternalServerError, body: `{"error":"db","message":"base de datos caída"}`, wantText: "status 500: base de datos caída"},
		{name: "plain text error", status: http.StatusBadGateway, body: "bad gateway", wantText: "status 502: bad gateway"},
		{name: "invalid json", status: http.StatusOK, body: `{nope`, wantText: "decode duplicate check response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := setupChecker(t)
			httpmock.RegisterResponder(http.MethodPost, checkURL, httpmock.NewStringResponder(tt.status, tt.body))

			dups, err := checker.CheckDuplicates(context.Background(), []Row{{"nombre": "Acme"}})

			require.Error(t, err)
			assert.Nil(t, dups)
			assert.Contains(t, err.Error(), tt.wantText)
			assert.Equal(t, 1, httpmock.GetTotalCallCount(), "no retries")
		})
	}
}

func TestHTTPDuplicateChecker_InSession(t *testing.T) {
	checker := setupChecker(t)
	httpmock.RegisterResponder(http.MethodPost, checkURL, httpmock.NewStringResponder(http.StatusOK,
		`{"duplicados":[{"nuevo":{"nombre":"Acme"},"existente":{"id":1,"nombre":"Acme"},"campos":["nombre"]}]}`))

	rec := &recorder{}
	s := NewSession("clientes", checker, rec)
	require.NoError(t, s.Load(parsedRows("Acme")))

	view, err := s.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateDuplicates, view.State)
	assert.Empty(t, rec.payloads)
}
