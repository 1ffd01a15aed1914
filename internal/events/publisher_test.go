package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Publish(context.Background(), AssignmentEvent{Kind: KindClaimed})
	})
	assert.NoError(t, p.Close())
}

func TestAssignmentEventEncoding(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	body, err := json.Marshal(AssignmentEvent{
		Kind:     KindClaimed,
		AdminID:  1,
		ClientID: 500,
		At:       at,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "claimed", decoded["kind"])
	// A plain claim carries no source admin.
	assert.NotContains(t, decoded, "from_admin_id")

	body, err = json.Marshal(AssignmentEvent{
		Kind:        KindTransferred,
		AdminID:     2,
		FromAdminID: 1,
		ClientID:    500,
		At:          at,
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, float64(1), decoded["from_admin_id"])
}
