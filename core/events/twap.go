package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"slidingoracle/core/types"
)

const (
	// TypeObservationRecorded is emitted when an update commits a ring slot.
	TypeObservationRecorded = "twap.observation_recorded"
	// TypeIncentivePaid is emitted after an update reward has been transferred.
	TypeIncentivePaid = "twap.incentive_paid"
)

type ObservationRecorded struct {
	Pair              common.Address
	Slot              uint64
	Timestamp         uint64
	CumulativeForward string
	CumulativeReverse string
}

func (ObservationRecorded) EventType() string { return TypeObservationRecorded }

func (e ObservationRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeObservationRecorded,
		Attributes: map[string]string{
			"pair":              e.Pair.Hex(),
			"slot":              strconv.FormatUint(e.Slot, 10),
			"timestamp":         strconv.FormatUint(e.Timestamp, 10),
			"cumulativeForward": formatAmount(e.CumulativeForward),
			"cumulativeReverse": formatAmount(e.CumulativeReverse),
		},
	}
}

type IncentivePaid struct {
	Pair      common.Address
	Recipient common.Address
	Amount    string
}

func (IncentivePaid) EventType() string { return TypeIncentivePaid }

func (e IncentivePaid) Event() *types.Event {
	return &types.Event{
		Type: TypeIncentivePaid,
		Attributes: map[string]string{
			"pair":      e.Pair.Hex(),
			"recipient": e.Recipient.Hex(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

func formatAmount(amount string) string {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
