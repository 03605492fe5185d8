package reputation

// accumulate applies the counter changes for ev. The event is already
// validated.
func accumulate(r *Record, ev Event) {
	switch ev.Kind {
	case EventPaymentOnTime:
		r.OnTimePayments++
		r.TotalPayments++
	case EventPaymentLate:
		r.LatePayments++
		r.TotalPayments++
		// Running mean over late payments only.
		n := float64(r.LatePayments)
		r.AveragePaymentDelay = (r.AveragePaymentDelay*(n-1) + ev.DelayDays) / n
	case EventPaymentMissed:
		r.MissedPayments++
		r.TotalPayments++
	case EventPenaltyApplied:
		r.TotalPenalties++
		r.TotalPenaltyAmount += ev.Amount
	case EventParticipationRecorded:
		r.ParticipationCount++
		// Without a denominator the rate is left as it was.
		if ev.Expected > 0 {
			r.ExpectedParticipations = ev.Expected
			updateParticipationRate(r)
		}
	case EventLeadershipAction:
		r.LeadershipWeight += ev.Weight
	case EventSocialInteraction:
		r.SocialWeight += ev.Weight
	}

	updateReliabilityRate(r)
}

func updateReliabilityRate(r *Record) {
	if r.TotalPayments == 0 {
		r.PaymentReliabilityRate = 0
		return
	}
	r.PaymentReliabilityRate = 100 * float64(r.OnTimePayments) / float64(r.TotalPayments)
}

func updateParticipationRate(r *Record) {
	if r.ExpectedParticipations <= 0 {
		return
	}
	r.ParticipationRate = clamp(100*float64(r.ParticipationCount)/float64(r.ExpectedParticipations), 0, 100)
}
