package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type ct for decoding.
func New(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeDeposit:
		return &Deposit{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	case CommandTypeWithdrawReserved:
		return &WithdrawReserved{}, nil
	case CommandTypeWrite:
		return &Write{}, nil
	case CommandTypePurchase:
		return &Purchase{}, nil
	case CommandTypeExercise:
		return &Exercise{}, nil
	case CommandTypeProcessExpired:
		return &ProcessExpired{}, nil
	case CommandTypeReassign:
		return &Reassign{}, nil
	case CommandTypeReassignBatch:
		return &ReassignBatch{}, nil
	case CommandTypeAnnihilate:
		return &Annihilate{}, nil
	case CommandTypeSetDivestmentTimestamp:
		return &SetDivestmentTimestamp{}, nil
	case CommandTypeSetApprovalForAll:
		return &SetApprovalForAll{}, nil
	case CommandTypeRecordPrice:
		return &RecordPrice{}, nil
	case CommandTypeSetPoolCaps:
		return &SetPoolCaps{}, nil
	case CommandTypeSetMinimumAmounts:
		return &SetMinimumAmounts{}, nil
	case CommandTypeSetSteepness:
		return &SetSteepness{}, nil
	case CommandTypeSetCLevel:
		return &SetCLevel{}, nil
	case CommandTypeSetFeeApy:
		return &SetFeeApy{}, nil
	case CommandTypeSetVolatility:
		return &SetVolatility{}, nil
	case CommandTypeIncreaseUserTVL:
		return &IncreaseUserTVL{}, nil
	case CommandTypeDecreaseUserTVL:
		return &DecreaseUserTVL{}, nil
	case CommandTypeSetDiscount:
		return &SetDiscount{}, nil
	case CommandTypeCreditWallet:
		return &CreditWallet{}, nil
	case CommandTypeDebitWallet:
		return &DebitWallet{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
}

// Decode unmarshals a JSON payload into a command of type ct.
func Decode(ct CommandType, data []byte) (Command, error) {
	cmd, err := New(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}

func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// HeaderOf returns the shared header of a command built in this package.
func HeaderOf(cmd Command) (*Header, bool) {
	h, ok := cmd.(interface{ header() *Header })
	if !ok {
		return nil, false
	}
	return h.header(), true
}
