package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/chancontext"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// FileActionPrefix namespaces the Upload/Skip buttons of the file prompt.
const FileActionPrefix = "intake_file"

const (
	fileActionUpload = "upload"
	fileActionSkip   = "skip"
)

// FileShare is a file shared in a channel.
type FileShare struct {
	FileID    string
	ChannelID string
	UserID    string
}

// FilePrompter offers to copy files shared in a collaboration channel into
// the channel's folder.
type FilePrompter struct {
	svc      Service
	uploader Uploader
	contexts *chancontext.Cache
	prompted *chancontext.PromptedFiles
}

// NewFilePrompter creates a FilePrompter. A nil uploader disables prompting.
func NewFilePrompter(svc Service, uploader Uploader, contexts *chancontext.Cache, prompted *chancontext.PromptedFiles) *FilePrompter {
	if contexts == nil {
		contexts = chancontext.NewCache(0)
	}
	if prompted == nil {
		prompted = chancontext.NewPromptedFiles(0)
	}
	return &FilePrompter{svc: svc, uploader: uploader, contexts: contexts, prompted: prompted}
}

// HandleShare posts the upload prompt for f if its channel has a folder and
// the file has not been offered before. It reports whether a prompt was sent.
func (p *FilePrompter) HandleShare(ctx context.Context, f FileShare) (bool, error) {
	if p.uploader == nil || f.FileID == "" || f.ChannelID == "" {
		return false, nil
	}
	entry, ok := p.lookup(ctx, f.ChannelID)
	if !ok || !entry.HasFolder() {
		slog.Debug("FilePrompter.HandleShare: channel has no folder", "channel", f.ChannelID)
		return false, nil
	}
	if !p.prompted.MarkOnce(f.FileID) {
		slog.Debug("FilePrompter.HandleShare: file already prompted", "file", f.FileID)
		return false, nil
	}

	name := f.FileID
	if info, err := p.svc.FileInfo(ctx, f.FileID); err == nil && info.Name != "" {
		name = info.Name
	}
	msg := models.Message{
		ChannelID:    f.ChannelID,
		Text:         fmt.Sprintf(msgFilePrompt, name),
		ActionPrefix: FileActionPrefix,
		Choices: []models.Choice{
			{Label: "Upload", Value: fileActionUpload + ":" + f.FileID},
			{Label: "Skip", Value: fileActionSkip + ":" + f.FileID},
		},
	}
	if err := p.svc.PostEphemeral(ctx, f.UserID, msg); err != nil {
		return false, fmt.Errorf("failed to post file prompt: %w", err)
	}
	slog.Info("FilePrompter.HandleShare: prompted upload", "file", f.FileID, "channel", f.ChannelID, "user", f.UserID)
	return true, nil
}

// HandleAction runs a pressed Upload or Skip button.
func (p *FilePrompter) HandleAction(ctx context.Context, userID, channelID, value string) error {
	action, fileID, ok := strings.Cut(value, ":")
	if !ok || fileID == "" {
		return fmt.Errorf("malformed file action %q", value)
	}
	switch action {
	case fileActionSkip:
		slog.Debug("FilePrompter.HandleAction: upload skipped", "file", fileID, "user", userID)
		return nil
	case fileActionUpload:
		url, err := p.upload(ctx, channelID, fileID)
		if err != nil {
			slog.Error("FilePrompter.HandleAction: upload failed", "file", fileID, "channel", channelID, "error", err)
			p.notify(ctx, userID, channelID, msgUploadFailed)
			return err
		}
		p.notify(ctx, userID, channelID, fmt.Sprintf(msgUploaded, url))
		return nil
	}
	return fmt.Errorf("unknown file action %q", action)
}

func (p *FilePrompter) upload(ctx context.Context, channelID, fileID string) (string, error) {
	if p.uploader == nil {
		return "", models.ErrIntegrationNotConfigured
	}
	entry, ok := p.lookup(ctx, channelID)
	if !ok || !entry.HasFolder() {
		return "", fmt.Errorf("channel %s has no folder", channelID)
	}
	folderID := entry.FolderID
	if folderID == "" {
		folder, err := p.uploader.ResolveShareLink(ctx, entry.FolderURL)
		if err != nil {
			return "", fmt.Errorf("failed to resolve folder: %w", err)
		}
		folderID = folder.ID
		entry.FolderID = folderID
		p.contexts.Set(channelID, entry)
	}

	info, err := p.svc.FileInfo(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to read file info: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(p.svc.DownloadFile(ctx, info.DownloadRef, pw))
	}()
	url, err := p.uploader.Upload(ctx, folderID, info.Name, int64(info.Size), pr)
	pr.CloseWithError(err)
	if err != nil {
		return "", err
	}
	slog.Info("FilePrompter.upload: file uploaded", "file", fileID, "name", info.Name, "size", info.Size, "folder", folderID)
	return url, nil
}

// lookup returns the cached context of channelID, rebuilding it from the
// channel's topic and purpose on a miss.
func (p *FilePrompter) lookup(ctx context.Context, channelID string) (chancontext.Entry, bool) {
	if e, ok := p.contexts.Get(channelID); ok {
		return e, true
	}
	info, err := p.svc.ChannelInfo(ctx, channelID)
	if err != nil {
		slog.Debug("FilePrompter.lookup: channel info unavailable", "channel", channelID, "error", err)
		return chancontext.Entry{}, false
	}
	folderURL := firstURL(info.Purpose)
	if folderURL == "" {
		return chancontext.Entry{}, false
	}
	e := chancontext.Entry{RecordURL: firstURL(info.Topic), FolderURL: folderURL}
	if folder, err := p.uploader.ResolveShareLink(ctx, folderURL); err == nil {
		e.FolderID = folder.ID
	} else {
		slog.Warn("FilePrompter.lookup: could not resolve folder link", "channel", channelID, "error", err)
	}
	p.contexts.Set(channelID, e)
	return e, true
}

func (p *FilePrompter) notify(ctx context.Context, userID, channelID, text string) {
	if err := p.svc.PostEphemeral(ctx, userID, models.Message{ChannelID: channelID, Text: text}); err != nil {
		slog.Warn("FilePrompter.notify: failed to post", "user", userID, "error", err)
	}
}

// firstURL extracts the first http(s) URL from text, unwrapping Slack's
// <url|label> link markup.
func firstURL(text string) string {
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, "<>")
		if i := strings.IndexByte(field, '|'); i >= 0 {
			field = field[:i]
		}
		if strings.HasPrefix(field, "https://") || strings.HasPrefix(field, "http://") {
			return field
		}
	}
	return ""
}
