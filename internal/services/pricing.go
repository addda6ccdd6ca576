package services

import "github.com/tunefile/apiserver/types"

// Credit prices per modification.
const (
	priceStage1       = 50
	priceStage2       = 75
	priceStageCustom  = 100
	priceDPFOff       = 25
	priceOPFOff       = 25
	priceAdBlueOff    = 25
	priceEGROff       = 25
	priceDTCRemoval   = 15
	priceVmaxOff      = 25
	priceStartStopOff = 15
	priceCatalystOff  = 25
	pricePopAndBang   = 25

	// priceCatPopBundle is the flat price when catalyst-off and
	// pop-and-bang are ordered together.
	priceCatPopBundle = 40
)

// Stage names accepted for the power increase option.
const (
	StageNone   = ""
	Stage1      = "Stage 1"
	Stage2      = "Stage 2"
	StageCustom = "Custom"
)

// ComputeCredits returns the credit price for the selected options.
// It is pure and deterministic. Submissions with no selected option are
// rejected with ErrNoOptionsSelected; an unknown stage name is rejected
// with ErrInvalidStatus.
func ComputeCredits(opts types.TuningOptions) (int, error) {
	if !opts.Any() {
		return 0, ErrNoOptionsSelected
	}

	total := 0
	switch opts.PowerIncrease {
	case StageNone:
	case Stage1:
		total += priceStage1
	case Stage2:
		total += priceStage2
	case StageCustom:
		total += priceStageCustom
	default:
		return 0, ErrInvalidStatus
	}

	if opts.DPFOff {
		total += priceDPFOff
	}
	if opts.OPFOff {
		total += priceOPFOff
	}
	if opts.AdBlueOff {
		total += priceAdBlueOff
	}
	if opts.EGROff {
		total += priceEGROff
	}
	if opts.DTCRemoval {
		total += priceDTCRemoval
	}
	if opts.VmaxOff {
		total += priceVmaxOff
	}
	if opts.StartStopOff {
		total += priceStartStopOff
	}

	switch {
	case opts.CatalystOff && opts.PopAndBang:
		total += priceCatPopBundle
	case opts.CatalystOff:
		total += priceCatalystOff
	case opts.PopAndBang:
		total += pricePopAndBang
	}

	return total, nil
}
