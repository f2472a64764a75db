package transformer

import (
	"fmt"

	"recon/internal/config"
)

// Action is the compiled form of a step's action identifier.
type Action uint8

const (
	// ActionNoOp stands for any identifier this build does not know. It is
	// kept in the pipeline so step indexes stay aligned with the model.
	ActionNoOp Action = iota
	ActionKeepColumns
	ActionRenameColumns
	ActionCleanText
	ActionFormatCurrency
	ActionFormatDate
	ActionNormalizeHeaders
	ActionFixSpecialCharacters
	ActionFormatToNumber
)

// ParseAction maps a configuration identifier to its Action. Unknown
// identifiers yield ActionNoOp and false.
func ParseAction(id string) (Action, bool) {
	switch id {
	case config.ActionKeepColumns:
		return ActionKeepColumns, true
	case config.ActionRenameColumns:
		return ActionRenameColumns, true
	case config.ActionCleanText:
		return ActionCleanText, true
	case config.ActionFormatCurrency:
		return ActionFormatCurrency, true
	case config.ActionFormatDate:
		return ActionFormatDate, true
	case config.ActionNormalizeHeaders:
		return ActionNormalizeHeaders, true
	case config.ActionFixSpecialCharacters:
		return ActionFixSpecialCharacters, true
	case config.ActionFormatToNumber:
		return ActionFormatToNumber, true
	}
	return ActionNoOp, false
}

func (a Action) String() string {
	switch a {
	case ActionNoOp:
		return "noop"
	case ActionKeepColumns:
		return config.ActionKeepColumns
	case ActionRenameColumns:
		return config.ActionRenameColumns
	case ActionCleanText:
		return config.ActionCleanText
	case ActionFormatCurrency:
		return config.ActionFormatCurrency
	case ActionFormatDate:
		return config.ActionFormatDate
	case ActionNormalizeHeaders:
		return config.ActionNormalizeHeaders
	case ActionFixSpecialCharacters:
		return config.ActionFixSpecialCharacters
	case ActionFormatToNumber:
		return config.ActionFormatToNumber
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}
