package firestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

func TestNextUpdatedAt(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, base.Add(time.Second), nextUpdatedAt(base.Add(time.Second), base))
	assert.Equal(t, base.Add(time.Microsecond), nextUpdatedAt(base, base), "same instant must still advance")
	assert.Equal(t, base.Add(time.Microsecond), nextUpdatedAt(base.Add(-time.Minute), base), "clock skew must not go backwards")
}

func TestNumericID(t *testing.T) {
	alice, err := urn.Parse("urn:sm:user:alice")
	require.NoError(t, err)
	bob, err := urn.Parse("urn:sm:user:bob")
	require.NoError(t, err)

	id := numericID(alice, "tok")
	assert.Positive(t, id)
	assert.Equal(t, id, numericID(alice, "tok"))
	assert.NotEqual(t, id, numericID(bob, "tok"))
	assert.NotEqual(t, id, numericID(alice, "tok2"))
}
