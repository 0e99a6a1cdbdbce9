package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/d60-Lab/thought-board/internal/platform"
	"github.com/d60-Lab/thought-board/internal/service"
	"github.com/d60-Lab/thought-board/pkg/logger"
	"github.com/d60-Lab/thought-board/pkg/monitor"
)

const interactionTimeout = 30 * time.Second

type commandHandler func(ctx context.Context, i *discordgo.InteractionCreate) error

// Services 机器人依赖的业务服务
type Services struct {
	Posts    *service.PostService
	Deletes  *service.DeleteService
	Thoughts *service.ThoughtService
}

// Bot 把斜杠命令、modal 提交和私信命令分发给业务服务
type Bot struct {
	session  *discordgo.Session
	appID    string
	guildID  string
	svc      Services
	commands map[string]commandHandler
}

func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages | discordgo.IntentsGuildMembers
	return s, nil
}

func NewBot(session *discordgo.Session, appID, guildID string, svc Services) *Bot {
	b := &Bot{session: session, appID: appID, guildID: guildID, svc: svc}
	b.commands = map[string]commandHandler{
		cmdThought:  b.openSubmitModal,
		cmdThoughts: b.listMine,
		cmdSearch:   b.search,
		cmdEdit:     b.openEditModal,
		cmdDelete:   b.deleteThought,
		cmdHelp:     b.help,
	}
	return b
}

// Open 连接网关并注册命令
func (b *Bot) Open() error {
	b.session.AddHandler(b.onInteraction)
	b.session.AddHandler(b.onMessage)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	appID := b.appID
	if appID == "" {
		appID = b.session.State.User.ID
	}
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, ApplicationCommands()); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	logger.Info("discord bot connected", zap.String("user", b.session.State.User.Username), zap.String("guild_id", b.guildID))
	return nil
}

func (b *Bot) Close() error { return b.session.Close() }

// BotID 连接后可用
func (b *Bot) BotID() string {
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

func (b *Bot) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		h, ok := b.commands[name]
		if !ok {
			logger.Warn("unknown command", zap.String("command", name))
			return
		}
		err = h(ctx, i)
	case discordgo.InteractionModalSubmit:
		err = b.onModal(ctx, i)
	default:
		return
	}
	if err != nil {
		logger.Error("interaction failed", zap.String("interaction_id", i.ID), zap.Error(err))
		monitor.CaptureError(err)
	}
}

func (b *Bot) onModal(ctx context.Context, i *discordgo.InteractionCreate) error {
	data := i.ModalSubmitData()
	values := modalValues(data)
	if anonymous, private, ok := parseSubmitModalID(data.CustomID); ok {
		return b.submit(ctx, i, values, anonymous, private)
	}
	if id, ok := parseEditModalID(data.CustomID); ok {
		return b.edit(ctx, i, id, values)
	}
	return fmt.Errorf("unknown modal %q", data.CustomID)
}

// onMessage 只处理私信里的 delete <id>
func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID != "" || m.Author == nil || m.Author.Bot {
		return
	}
	id, err := ParseDeleteCommand(m.Content)
	if errors.Is(err, ErrNotCommand) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	reply := ""
	if err != nil {
		reply = "Usage: `delete <thought id>`"
	} else {
		outcome, derr := b.svc.Deletes.Delete(ctx, id, m.Author.ID)
		if derr != nil {
			logger.Error("dm delete failed", zap.Uint64("post_id", id), zap.Error(derr))
			reply = service.UserMessage(derr)
		} else {
			reply = deleteMessage(id, outcome)
		}
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx)); err != nil {
		logger.Warn("dm reply failed", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

func (b *Bot) openSubmitModal(_ context.Context, i *discordgo.InteractionCreate) error {
	var anonymous, private bool
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "anonymous":
			anonymous = opt.BoolValue()
		case "private":
			private = opt.BoolValue()
		}
	}
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: submitModal(anonymous, private),
	})
}

func (b *Bot) submit(ctx context.Context, i *discordgo.InteractionCreate, values map[string]string, anonymous, private bool) error {
	if err := b.deferReply(i); err != nil {
		return err
	}
	receipt, err := b.svc.Posts.Submit(ctx, service.SubmitInput{
		Content:     values[fieldContent],
		Category:    values[fieldCategory],
		ImageURL:    values[fieldImage],
		Anonymous:   anonymous,
		Private:     private,
		Author:      identityOf(i),
		Destination: platform.Destination{GuildID: i.GuildID, ChannelID: i.ChannelID},
	})
	if err != nil {
		return b.followUp(i, service.UserMessage(err), err)
	}
	return b.followUp(i, receiptMessage(receipt), nil)
}

func (b *Bot) openEditModal(ctx context.Context, i *discordgo.InteractionCreate) error {
	id := postIDOption(i)
	user := identityOf(i)
	t, err := b.svc.Thoughts.Get(ctx, id, user.UserID)
	if err == nil && t.AuthorID != user.UserID {
		err = service.ErrNotFoundOrForbidden
	}
	if err != nil {
		return b.reply(i, service.UserMessage(err))
	}
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: editModal(t),
	})
}

func (b *Bot) edit(ctx context.Context, i *discordgo.InteractionCreate, id uint64, values map[string]string) error {
	if err := b.deferReply(i); err != nil {
		return err
	}
	content := values[fieldContent]
	category := values[fieldCategory]
	er, err := b.svc.Posts.Edit(ctx, service.EditInput{
		PostID:      id,
		RequesterID: identityOf(i).UserID,
		Content:     &content,
		Category:    &category,
	})
	if err != nil {
		return b.followUp(i, service.UserMessage(err), err)
	}
	msg := fmt.Sprintf("Thought #%d updated.", id)
	if !er.RemoteUpdated {
		msg += " The posted card still shows the old text."
	}
	return b.followUp(i, msg, nil)
}

func (b *Bot) deleteThought(ctx context.Context, i *discordgo.InteractionCreate) error {
	id := postIDOption(i)
	if err := b.deferReply(i); err != nil {
		return err
	}
	outcome, err := b.svc.Deletes.Delete(ctx, id, identityOf(i).UserID)
	if err != nil {
		return b.followUp(i, service.UserMessage(err), err)
	}
	return b.followUp(i, deleteMessage(id, outcome), nil)
}

func (b *Bot) listMine(ctx context.Context, i *discordgo.InteractionCreate) error {
	page := 1
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "page" {
			page = int(opt.IntValue())
		}
	}
	user := identityOf(i)
	res, err := b.svc.Thoughts.List(ctx, service.ListQuery{ViewerID: user.UserID, AuthorID: user.UserID, Page: page})
	if err != nil {
		_ = b.reply(i, service.UserMessage(err))
		return err
	}
	return b.reply(i, formatList("Your thoughts", res))
}

func (b *Bot) search(ctx context.Context, i *discordgo.InteractionCreate) error {
	q := service.ListQuery{ViewerID: identityOf(i).UserID}
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "query":
			q.Text = opt.StringValue()
		case "category":
			q.Category = opt.StringValue()
		}
	}
	res, err := b.svc.Thoughts.List(ctx, q)
	if err != nil {
		_ = b.reply(i, service.UserMessage(err))
		return err
	}
	return b.reply(i, formatList(fmt.Sprintf("Results for %q", q.Text), res))
}

func (b *Bot) help(_ context.Context, i *discordgo.InteractionCreate) error {
	return b.reply(i, helpText)
}

func (b *Bot) reply(i *discordgo.InteractionCreate, content string) error {
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) deferReply(i *discordgo.InteractionCreate) error {
	return b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

// followUp 更新延迟回复；内部错误一并返回给上层记录，用户输入类错误不返回
func (b *Bot) followUp(i *discordgo.InteractionCreate, content string, cause error) error {
	_, err := b.session.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &content})
	var ve *service.ValidationError
	if errors.As(cause, &ve) || errors.Is(cause, service.ErrNotFoundOrForbidden) {
		cause = nil
	}
	return errors.Join(cause, err)
}

func identityOf(i *discordgo.InteractionCreate) platform.Identity {
	var (
		u   *discordgo.User
		mem = i.Member
	)
	if mem != nil {
		u = mem.User
	} else {
		u = i.User
	}
	if u == nil {
		return platform.Identity{}
	}
	return platform.Identity{
		UserID:      u.ID,
		DisplayName: strings.TrimSpace(displayName(u, mem)),
		AvatarURL:   u.AvatarURL(""),
	}
}

func postIDOption(i *discordgo.InteractionCreate) uint64 {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "id" && opt.IntValue() > 0 {
			return uint64(opt.IntValue())
		}
	}
	return 0
}
