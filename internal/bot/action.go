package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Action is an inline-button press decoded once at the transport
// boundary. Handlers switch on the concrete type; callback data
// strings never leak past decodeAction.
type Action interface {
	callbackData() string
}

// ClaimClient takes an unclaimed client from the admin channel.
type ClaimClient struct{ ClientID int64 }

// TransferTo hands the initiator's client to another admin.
type TransferTo struct{ AdminID int64 }

type OpenTransferMenu struct{}
type CancelTransfer struct{}
type CloseDialog struct{}
type ConfirmClose struct{}
type ToggleStatus struct{}
type GeneratePassword struct{}
type PromoteInfo struct{}
type ShowStats struct{}

func (a ClaimClient) callbackData() string { return "take:" + strconv.FormatInt(a.ClientID, 10) }
func (a TransferTo) callbackData() string  { return "transfer:" + strconv.FormatInt(a.AdminID, 10) }

func (OpenTransferMenu) callbackData() string { return "transfer_menu" }
func (CancelTransfer) callbackData() string   { return "cancel_transfer" }
func (CloseDialog) callbackData() string      { return "close_dialog" }
func (ConfirmClose) callbackData() string     { return "confirm_close" }
func (ToggleStatus) callbackData() string     { return "toggle_status" }
func (GeneratePassword) callbackData() string { return "generate_password" }
func (PromoteInfo) callbackData() string      { return "promote_info" }
func (ShowStats) callbackData() string        { return "stats" }

func decodeAction(data string) (Action, error) {
	if rest, ok := strings.CutPrefix(data, "take:"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad claim callback %q: %w", data, err)
		}
		return ClaimClient{ClientID: id}, nil
	}
	if rest, ok := strings.CutPrefix(data, "transfer:"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad transfer callback %q: %w", data, err)
		}
		return TransferTo{AdminID: id}, nil
	}

	switch data {
	case "transfer_menu":
		return OpenTransferMenu{}, nil
	case "cancel_transfer":
		return CancelTransfer{}, nil
	case "close_dialog":
		return CloseDialog{}, nil
	case "confirm_close":
		return ConfirmClose{}, nil
	case "toggle_status":
		return ToggleStatus{}, nil
	case "generate_password":
		return GeneratePassword{}, nil
	case "promote_info":
		return PromoteInfo{}, nil
	case "stats":
		return ShowStats{}, nil
	}
	return nil, fmt.Errorf("unknown callback %q", data)
}
