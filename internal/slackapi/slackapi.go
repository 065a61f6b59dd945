// Package slackapi wraps the slack-go client for IntakePipe.
//
// It posts thread messages with answer buttons, manages collaboration
// channels and reads shared files. Slack error codes the finalization
// pipeline reacts to are translated into models sentinels.
package slackapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/slack-go/slack"
)

// conversationsPageSize is the page size used when searching channels.
const conversationsPageSize = 200

// Opts holds configuration options for the Slack client.
type Opts struct {
	Token  string // bot token (xoxb-...)
	APIURL string // override for tests
	Debug  bool
}

// Option defines a configuration option for the Slack client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithAPIURL points the client at a different Web API root, e.g. an
// httptest server. The URL must end with a slash.
func WithAPIURL(url string) Option {
	return func(o *Opts) {
		o.APIURL = url
	}
}

// WithDebug enables slack-go request logging.
func WithDebug(debug bool) Option {
	return func(o *Opts) {
		o.Debug = debug
	}
}

// Client is the Slack Web API adapter.
type Client struct {
	api *slack.Client
}

// ErrMissingToken is returned by NewClient without a bot token.
var ErrMissingToken = errors.New("slack bot token is required")

// NewClient creates a Slack client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Slack NewClient options set", "token_set", cfg.Token != "", "api_url_set", cfg.APIURL != "", "debug", cfg.Debug)
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	slackOpts := []slack.Option{slack.OptionDebug(cfg.Debug)}
	if cfg.APIURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Client{api: slack.New(cfg.Token, slackOpts...)}, nil
}

// BotUserID returns the user id of the bot itself.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("auth.test failed: %w", err)
	}
	return resp.UserID, nil
}

// PostMessage posts msg and returns its timestamp.
func (c *Client) PostMessage(ctx context.Context, msg models.Message) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, msg.ChannelID, messageOptions(msg)...)
	if err != nil {
		slog.Error("Slack.PostMessage: failed", "error", err, "channel", msg.ChannelID, "thread", msg.ThreadID)
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	slog.Debug("Slack.PostMessage: sent", "channel", msg.ChannelID, "thread", msg.ThreadID, "ts", ts, "choices", len(msg.Choices))
	return ts, nil
}

// PostEphemeral shows msg to userID only.
func (c *Client) PostEphemeral(ctx context.Context, userID string, msg models.Message) error {
	if _, err := c.api.PostEphemeralContext(ctx, msg.ChannelID, userID, messageOptions(msg)...); err != nil {
		slog.Error("Slack.PostEphemeral: failed", "error", err, "channel", msg.ChannelID, "user", userID)
		return fmt.Errorf("chat.postEphemeral failed: %w", err)
	}
	return nil
}

// CreateChannel creates a channel.
func (c *Client) CreateChannel(ctx context.Context, name string, private bool) (models.ChannelInfo, error) {
	ch, err := c.api.CreateConversationContext(ctx, slack.CreateConversationParams{ChannelName: name, IsPrivate: private})
	if err != nil {
		return models.ChannelInfo{}, fmt.Errorf("conversations.create %s: %w", name, translate(err))
	}
	slog.Info("Slack.CreateChannel: created", "channel", ch.ID, "name", name, "private", private)
	return channelInfo(ch), nil
}

// FindChannelByName pages through the workspace's channels.
func (c *Client) FindChannelByName(ctx context.Context, name string) (models.ChannelInfo, error) {
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           conversationsPageSize,
		Types:           []string{"public_channel", "private_channel"},
	}
	for {
		channels, next, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return models.ChannelInfo{}, fmt.Errorf("conversations.list failed: %w", err)
		}
		for i := range channels {
			if channels[i].Name == name {
				return channelInfo(&channels[i]), nil
			}
		}
		if next == "" {
			return models.ChannelInfo{}, fmt.Errorf("channel %s not found", name)
		}
		params.Cursor = next
	}
}

// ChannelInfo reads a channel's name, topic and purpose.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (models.ChannelInfo, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return models.ChannelInfo{}, fmt.Errorf("conversations.info %s: %w", channelID, err)
	}
	return channelInfo(ch), nil
}

// InviteUsers invites userIDs to channelID.
func (c *Client) InviteUsers(ctx context.Context, channelID string, userIDs ...string) error {
	if _, err := c.api.InviteUsersToConversationContext(ctx, channelID, userIDs...); err != nil {
		return fmt.Errorf("conversations.invite %s: %w", channelID, translate(err))
	}
	return nil
}

// SetTopic sets the channel topic.
func (c *Client) SetTopic(ctx context.Context, channelID, topic string) error {
	if _, err := c.api.SetTopicOfConversationContext(ctx, channelID, topic); err != nil {
		return fmt.Errorf("conversations.setTopic %s: %w", channelID, err)
	}
	return nil
}

// SetPurpose sets the channel purpose.
func (c *Client) SetPurpose(ctx context.Context, channelID, purpose string) error {
	if _, err := c.api.SetPurposeOfConversationContext(ctx, channelID, purpose); err != nil {
		return fmt.Errorf("conversations.setPurpose %s: %w", channelID, err)
	}
	return nil
}

// FileInfo looks up a shared file.
func (c *Client) FileInfo(ctx context.Context, fileID string) (models.FileInfo, error) {
	f, _, _, err := c.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("files.info %s: %w", fileID, err)
	}
	return models.FileInfo{ID: f.ID, Name: f.Name, Size: f.Size, DownloadRef: f.URLPrivateDownload}, nil
}

// DownloadFile streams a private file URL into w.
func (c *Client) DownloadFile(ctx context.Context, ref string, w io.Writer) error {
	if err := c.api.GetFileContext(ctx, ref, w); err != nil {
		return fmt.Errorf("file download failed: %w", err)
	}
	return nil
}

func messageOptions(msg models.Message) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}
	if len(msg.Choices) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(choiceBlocks(msg)...))
	}
	return opts
}

// choiceBlocks renders the text and one button per choice. The action block
// carries the prefix as block id, each action id carries the prompt key and
// each button's value is the answer.
func choiceBlocks(msg models.Message) []slack.Block {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Text, false, false), nil, nil)
	buttons := make([]slack.BlockElement, 0, len(msg.Choices))
	for i, ch := range msg.Choices {
		buttons = append(buttons, slack.NewButtonBlockElement(
			models.ChoiceActionID(msg.ActionPrefix, msg.ActionKey, i),
			ch.Value,
			slack.NewTextBlockObject(slack.PlainTextType, ch.Label, false, false),
		))
	}
	return []slack.Block{section, slack.NewActionBlock(msg.ActionPrefix, buttons...)}
}

func channelInfo(ch *slack.Channel) models.ChannelInfo {
	return models.ChannelInfo{ID: ch.ID, Name: ch.Name, Topic: ch.Topic.Value, Purpose: ch.Purpose.Value}
}

// translate maps Slack error codes onto models sentinels, keeping the
// original error in the chain.
func translate(err error) error {
	switch errorCode(err) {
	case "name_taken":
		return fmt.Errorf("%w: %w", models.ErrChannelNameTaken, err)
	case "restricted_action":
		return fmt.Errorf("%w: %w", models.ErrChannelCreationRestricted, err)
	case "already_in_channel", "cant_invite_self":
		return fmt.Errorf("%w: %w", models.ErrAlreadyInChannel, err)
	}
	return err
}

func errorCode(err error) string {
	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		return resp.Err
	}
	return err.Error()
}
