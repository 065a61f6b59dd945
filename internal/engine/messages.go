package engine

// User-facing texts.
const (
	msgRedirect             = "<@%s> please answer in this thread so your answers stay together."
	msgEmpty                = "Please enter an answer."
	msgNotSkippable         = "This question is required and can't be skipped."
	msgUnknownVariant       = "Please pick one of the offered options."
	msgVariantNotConfigured = "This option isn't set up yet, so the intake was stopped. Please contact an administrator."
	msgInternalRetry        = "Something went wrong reading that answer. Please try again."
	msgCancelled            = "Intake cancelled. Nothing was created."
	msgPeopleHint           = "Known people:"
	msgSkipHint             = "Reply `skip` to leave this empty."
)
