/*
report.go - Read-side account summary

PURPOSE:
  Aggregates the representative observation of every tracked user into
  the counts the desktop shell displays: followers, followings, and the
  two asymmetry buckets (don't-follow-back, I-don't-follow-back).

PRECISION:
  The follower:following ratio is computed with shopspring/decimal to
  keep the division exact to a fixed scale instead of drifting through
  float64.
*/
package engine

import (
	"context"

	"github.com/shopspring/decimal"
)

// ratioScale is the number of decimal places kept on the ratio.
const ratioScale = 4

// Report summarizes the current relationship picture for one account.
type Report struct {
	AccountID       int64
	Users           int
	Followers       int
	Following       int
	DontFollowBack  int
	IDontFollowBack int

	// FollowRatio is followers divided by followings, zero when the
	// account follows nobody.
	FollowRatio decimal.Decimal
}

// Report builds the summary for an account from its most recent
// observations.
func (e *Engine) Report(ctx context.Context, accountID int64) (*Report, error) {
	observations, err := e.MostRecentObservationsForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	r := &Report{AccountID: accountID, Users: len(observations)}
	for _, obs := range observations {
		if obs.IsFollower {
			r.Followers++
		}
		if obs.IsFollowing {
			r.Following++
		}
		if obs.DontFollowBack() {
			r.DontFollowBack++
		}
		if obs.IDontFollowBack() {
			r.IDontFollowBack++
		}
	}

	if r.Following > 0 {
		r.FollowRatio = decimal.NewFromInt(int64(r.Followers)).
			DivRound(decimal.NewFromInt(int64(r.Following)), ratioScale)
	}
	return r, nil
}
