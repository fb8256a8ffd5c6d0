package entitlement

// Observer receives accounting outcomes, typically to export metrics.
type Observer interface {
	ConsumeDecided(source Source, granted bool)
	WindowReset()
	ConflictRetried(op string)
	CreditsAdded(credits int)
	PlanChanged(plan Plan)
	Refunded(source Source)
}

type noopObserver struct{}

func (noopObserver) ConsumeDecided(Source, bool) {}
func (noopObserver) WindowReset()                {}
func (noopObserver) ConflictRetried(string)      {}
func (noopObserver) CreditsAdded(int)            {}
func (noopObserver) PlanChanged(Plan)            {}
func (noopObserver) Refunded(Source)             {}
