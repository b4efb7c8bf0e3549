package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// connectIntegration connects to the deployment named by SELENE_TEST_MONGO_URI
// and skips the test when it is unset.
func connectIntegration(t *testing.T) *Store {
	t.Helper()

	uri := os.Getenv("SELENE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SELENE_TEST_MONGO_URI not set")
	}

	s, err := Connect(context.Background(), uri)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})

	return s
}
