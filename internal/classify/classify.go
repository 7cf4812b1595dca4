// Package classify maps a (outer_loss, inner_loss) measurement pair to a
// tunnel status, per spec §4.2's transition table.
package classify

import "github.com/Kup1ng/gre-watchdog/internal/model"

// Outcome is the result of classifying one measurement round.
type Outcome struct {
	Status        model.Status
	BadRounds     int
	RequestReset  bool
}

// Classify applies the dual-side health classification table. prevBadRounds
// is the tunnel's bad_rounds counter going into this round; confirmBadRounds
// is the confirm_bad_rounds threshold from configuration.
//
// Classification totality: every (pubLoss, greLoss) in [0,100]^2 yields
// exactly one of the four statuses below.
func Classify(pubLoss, greLoss, lossOKPercent float64, prevBadRounds, confirmBadRounds int) Outcome {
	pubOK := pubLoss < lossOKPercent
	greOK := greLoss < lossOKPercent

	switch {
	case pubOK && greOK:
		return Outcome{Status: model.StatusOK, BadRounds: 0}
	case !pubOK && !greOK:
		return Outcome{Status: model.StatusFilteredOrDown, BadRounds: 0}
	case pubOK && !greOK:
		rounds := prevBadRounds + 1
		return Outcome{
			Status:       model.StatusPublicOKGREBad,
			BadRounds:    rounds,
			RequestReset: rounds >= confirmBadRounds,
		}
	default: // !pubOK && greOK
		return Outcome{Status: model.StatusWeirdPublicBadGREOK, BadRounds: 0}
	}
}
