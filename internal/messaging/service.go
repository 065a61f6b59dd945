// Package messaging routes inbound Slack traffic to the intake engine and the
// file-upload prompt.
package messaging

import (
	"context"
	"io"

	"github.com/BTreeMap/IntakePipe/internal/engine"
	"github.com/BTreeMap/IntakePipe/internal/finalize"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Service is the chat workspace as seen by the bot. slackapi.Client and
// slackapi.MockClient implement it.
type Service interface {
	engine.Messenger
	finalize.Channels

	// PostEphemeral shows msg to userID only, in msg.ChannelID.
	PostEphemeral(ctx context.Context, userID string, msg models.Message) error

	// ChannelInfo reads a channel's name, topic and purpose.
	ChannelInfo(ctx context.Context, channelID string) (models.ChannelInfo, error)

	// FileInfo and DownloadFile fetch a shared file.
	FileInfo(ctx context.Context, fileID string) (models.FileInfo, error)
	DownloadFile(ctx context.Context, ref string, w io.Writer) error
}

// Uploader stores files in a cloud folder. graph.Client implements it.
type Uploader interface {
	// Upload writes size bytes from r into folderID and returns the file's web URL.
	Upload(ctx context.Context, folderID, name string, size int64, r io.Reader) (string, error)

	// ResolveShareLink maps a folder sharing URL back to the folder.
	ResolveShareLink(ctx context.Context, shareURL string) (models.Folder, error)
}
