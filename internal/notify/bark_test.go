package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBarkNotify(t *testing.T) {
	var gotPath, gotSound string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSound = r.URL.Query().Get("sound")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewBark("device-key", zap.NewNop())
	b.base = srv.URL

	require.NoError(t, b.Notify(context.Background(), "Grabbed 3 items, go pay now!"))
	assert.Equal(t, "/device-key/Grabbed 3 items, go pay now!", gotPath)
	assert.Equal(t, "minuet", gotSound)
}

func TestBarkNotifyEscapesMessage(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
	}))
	defer srv.Close()

	b := NewBark("k", zap.NewNop())
	b.base = srv.URL

	require.NoError(t, b.Notify(context.Background(), "a/b c"))
	assert.Equal(t, "/k/a%2Fb%20c", gotPath)
}

func TestBarkNotifyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBark("k", zap.NewNop())
	b.base = srv.URL

	err := b.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestBarkNotifyRespectsContext(t *testing.T) {
	b := NewBark("k", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, b.Notify(ctx, "hello"))
}
