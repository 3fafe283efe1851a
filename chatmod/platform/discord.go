// Discord-backed implementations of the moderation capability interfaces,
// plus the gateway consumer that feeds inbound messages to the pipeline.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentry-mod/sentry/chatmod"
	"github.com/sentry-mod/sentry/chatmod/adminapi"
	"github.com/sentry-mod/sentry/chatmod/escalation"

	"github.com/bwmarrin/discordgo"
)

type Discord struct {
	Logger  *slog.Logger
	session *discordgo.Session
}

func NewDiscord(token string, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsAll
	return &Discord{
		Logger:  logger,
		session: session,
	}, nil
}

func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	d.Logger.Info("logged in", "user", d.session.State.User.String())
	return nil
}

func (d *Discord) Close() error {
	return d.session.Close()
}

// SelfID is the bot's own user id; only valid after Open.
func (d *Discord) SelfID() string {
	if d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// Subscribe registers a gateway handler that converts message-create events
// and hands them to the pipeline. Each message is processed on its own
// goroutine so a slow classification never stalls the gateway.
func (d *Discord) Subscribe(handler func(ctx context.Context, msg *chatmod.InboundMessage)) {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.GuildID == "" {
			return
		}
		inbound := d.toInbound(s, m)
		go handler(context.Background(), inbound)
	})
}

func (d *Discord) toInbound(s *discordgo.Session, m *discordgo.MessageCreate) *chatmod.InboundMessage {
	guildName := ""
	if guild, err := s.State.Guild(m.GuildID); err == nil {
		guildName = guild.Name
	}
	channelName := ""
	if channel, err := s.State.Channel(m.ChannelID); err == nil {
		channelName = channel.Name
	}
	attachments := make([]string, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		attachments = append(attachments, att.URL)
	}
	return &chatmod.InboundMessage{
		GuildID:        m.GuildID,
		GuildName:      guildName,
		ChannelID:      m.ChannelID,
		ChannelName:    channelName,
		MessageID:      m.ID,
		AuthorID:       m.Author.ID,
		AuthorTag:      m.Author.String(),
		Content:        m.Content,
		AttachmentURLs: attachments,
	}
}

// maps a Discord REST 404 to the admin API's lookup-miss error
func notFound(err error, entity string) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return &adminapi.NotFoundError{Entity: entity}
	}
	return err
}

// ----- escalation.ModerationAction -----

var _ escalation.ModerationAction = (*Discord)(nil)

func (d *Discord) Restrict(ctx context.Context, subject escalation.Subject, dur time.Duration, auditReason string) error {
	until := time.Now().Add(dur)
	return d.session.GuildMemberTimeout(subject.GuildID, subject.UserID, &until,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (d *Discord) Unrestrict(ctx context.Context, subject escalation.Subject, auditReason string) error {
	return d.session.GuildMemberTimeout(subject.GuildID, subject.UserID, nil,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (d *Discord) DeleteMessage(ctx context.Context, ref escalation.MessageRef) error {
	return d.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
}

func (d *Discord) SendDirect(ctx context.Context, subject escalation.Subject, content string) (escalation.MessageHandle, error) {
	channel, err := d.session.UserChannelCreate(subject.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return escalation.MessageHandle{}, fmt.Errorf("opening DM channel: %w", err)
	}
	msg, err := d.session.ChannelMessageSend(channel.ID, content, discordgo.WithContext(ctx))
	if err != nil {
		return escalation.MessageHandle{}, fmt.Errorf("sending DM: %w", err)
	}
	return escalation.MessageHandle{ChannelID: channel.ID, MessageID: msg.ID}, nil
}

func (d *Discord) EditMessage(ctx context.Context, handle escalation.MessageHandle, content string) error {
	_, err := d.session.ChannelMessageEdit(handle.ChannelID, handle.MessageID, content, discordgo.WithContext(ctx))
	return err
}

// ----- adminapi.Platform -----

var _ adminapi.Platform = (*Discord)(nil)

func (d *Discord) HasManageMessages(ctx context.Context, guildID, userID string) (bool, error) {
	guild, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return false, notFound(err, "Guild")
	}
	member, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, notFound(err, "User")
	}
	if guild.OwnerID == userID {
		return true, nil
	}

	var perms int64
	for _, role := range guild.Roles {
		// @everyone role shares the guild id
		if role.ID == guildID {
			perms |= role.Permissions
			continue
		}
		for _, memberRole := range member.Roles {
			if role.ID == memberRole {
				perms |= role.Permissions
				break
			}
		}
	}
	if perms&discordgo.PermissionAdministrator != 0 {
		return true, nil
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}

func (d *Discord) FetchMessage(ctx context.Context, guildID, channelID, messageID string) (*adminapi.Message, error) {
	if _, err := d.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return nil, notFound(err, "Guild")
	}
	if _, err := d.session.Channel(channelID, discordgo.WithContext(ctx)); err != nil {
		return nil, notFound(err, "Channel")
	}
	msg, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, notFound(err, "Message")
	}

	attachments := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, att.URL)
	}
	out := &adminapi.Message{
		ID:             msg.ID,
		GuildID:        guildID,
		ChannelID:      channelID,
		Content:        msg.Content,
		AttachmentURLs: attachments,
		Timestamp:      msg.Timestamp,
	}
	if msg.Author != nil {
		out.AuthorID = msg.Author.ID
		out.AuthorTag = msg.Author.String()
	}
	return out, nil
}

func (d *Discord) RemoveMessage(ctx context.Context, guildID, channelID, messageID string) error {
	if _, err := d.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "Guild")
	}
	if err := d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "Message")
	}
	return nil
}

func (d *Discord) TimeoutMember(ctx context.Context, guildID, userID string, dur time.Duration, auditReason string) error {
	if _, err := d.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "Guild")
	}
	if _, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "User")
	}
	until := time.Now().Add(dur)
	return d.session.GuildMemberTimeout(guildID, userID, &until,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (d *Discord) ClearTimeout(ctx context.Context, guildID, userID, auditReason string) error {
	if _, err := d.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "Guild")
	}
	if _, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "User")
	}
	return d.session.GuildMemberTimeout(guildID, userID, nil,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(auditReason))
}

func (d *Discord) BanMember(ctx context.Context, guildID, userID, auditReason string) error {
	if _, err := d.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "Guild")
	}
	if _, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx)); err != nil {
		return notFound(err, "User")
	}
	return d.session.GuildBanCreateWithReason(guildID, userID, auditReason, 0, discordgo.WithContext(ctx))
}
