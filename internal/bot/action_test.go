package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionRoundTrip(t *testing.T) {
	actions := []Action{
		ClaimClient{ClientID: 12345},
		TransferTo{AdminID: -100200},
		OpenTransferMenu{},
		CancelTransfer{},
		CloseDialog{},
		ConfirmClose{},
		ToggleStatus{},
		GeneratePassword{},
		PromoteInfo{},
		ShowStats{},
	}
	for _, want := range actions {
		got, err := decodeAction(want.callbackData())
		require.NoError(t, err, "decoding %q", want.callbackData())
		assert.Equal(t, want, got)
	}
}

func TestDecodeActionRejectsGarbage(t *testing.T) {
	for _, data := range []string{"", "unknown", "take:", "take:abc", "transfer:", "transfer:x1"} {
		_, err := decodeAction(data)
		assert.Error(t, err, "data %q", data)
	}
}
