package dialog

// TransferOption is a candidate target for a hand-off: any admin other
// than the initiator, annotated with a best-effort busy flag computed
// at render time. Selection is re-validated under the table lock, so a
// stale flag costs the initiator a retry, never a double assignment.
type TransferOption struct {
	Admin AdminStatus
}

// TransferOptions lists the hand-off targets for an initiating admin.
func (e *Engine) TransferOptions(initiatorID int64) []TransferOption {
	var options []TransferOption
	for _, s := range e.table.ListAdmins() {
		if s.Admin.ID == initiatorID {
			continue
		}
		options = append(options, TransferOption{Admin: s})
	}
	return options
}
