package messaging

const (
	msgAlreadyActive  = "You already have an intake in progress. Finish it, or reply `cancel` in its thread."
	msgNotConfigured  = "This intake is not available right now because its destination is not configured. Please contact an administrator."
	msgUnknownFlow    = "That intake is not set up."
	msgStartFailed    = "Something went wrong while starting the intake. Please try again."
	msgNothingToStop  = "You have no intake in progress."
	msgUnknownCommand = "Unknown command. Available intakes: %s"
	msgFilePrompt     = "Copy *%s* into this channel's folder?"
	msgUploaded       = ":white_check_mark: Uploaded to the folder: %s"
	msgUploadFailed   = ":warning: The file could not be uploaded. Please add it to the folder manually."
)
