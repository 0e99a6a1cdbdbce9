package discord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"

	"github.com/d60-Lab/thought-board/internal/model"
	"github.com/d60-Lab/thought-board/internal/service"
)

const (
	cmdThought  = "thought"
	cmdThoughts = "thoughts"
	cmdSearch   = "search"
	cmdEdit     = "edit"
	cmdDelete   = "delete"
	cmdHelp     = "help"

	fieldContent  = "content"
	fieldCategory = "category"
	fieldImage    = "image_url"

	submitModalPrefix = "thought:"
	editModalPrefix   = "edit:"

	listPreviewRunes = 80
)

var (
	// ErrNotCommand 私信内容不是命令，忽略
	ErrNotCommand = errors.New("not a command")
	// ErrDeleteUsage 私信删除命令格式错误
	ErrDeleteUsage = errors.New("usage: delete <thought id>")
)

const helpText = "**Thought board**\n" +
	"`/thought` share a thought (options: anonymous, private)\n" +
	"`/thoughts` list your own thoughts\n" +
	"`/search` search public thoughts\n" +
	"`/edit id` edit one of your thoughts\n" +
	"`/delete id` delete one of your thoughts\n" +
	"In DMs you can also type `delete <id>`."

// ApplicationCommands 注册到 Discord 的斜杠命令
func ApplicationCommands() []*discordgo.ApplicationCommand {
	idOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "id",
		Description: "Thought ID",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdThought,
			Description: "Share a thought",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "anonymous", Description: "Hide your name"},
				{Type: discordgo.ApplicationCommandOptionBoolean, Name: "private", Description: "Only send it to your DMs"},
			},
		},
		{
			Name:        cmdThoughts,
			Description: "List your thoughts",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "page", Description: "Page number"},
			},
		},
		{
			Name:        cmdSearch,
			Description: "Search public thoughts",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "query", Description: "Text to look for", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "category", Description: "Only this category"},
			},
		},
		{Name: cmdEdit, Description: "Edit one of your thoughts", Options: []*discordgo.ApplicationCommandOption{idOption}},
		{Name: cmdDelete, Description: "Delete one of your thoughts", Options: []*discordgo.ApplicationCommandOption{idOption}},
		{Name: cmdHelp, Description: "How to use the thought board"},
	}
}

// ParseDeleteCommand 解析私信文本 "delete <id>"。不是 delete 开头返回 ErrNotCommand，格式不对返回 ErrDeleteUsage。
func ParseDeleteCommand(text string) (uint64, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], cmdDelete) {
		return 0, ErrNotCommand
	}
	if len(fields) != 2 {
		return 0, ErrDeleteUsage
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "#"), 10, 64)
	if err != nil || id == 0 {
		return 0, ErrDeleteUsage
	}
	return id, nil
}

func submitModalID(anonymous, private bool) string {
	return fmt.Sprintf("%s%t:%t", submitModalPrefix, anonymous, private)
}

func parseSubmitModalID(id string) (anonymous, private bool, ok bool) {
	rest, found := strings.CutPrefix(id, submitModalPrefix)
	if !found {
		return false, false, false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return false, false, false
	}
	a, errA := strconv.ParseBool(parts[0])
	p, errP := strconv.ParseBool(parts[1])
	if errA != nil || errP != nil {
		return false, false, false
	}
	return a, p, true
}

func editModalID(postID uint64) string {
	return editModalPrefix + strconv.FormatUint(postID, 10)
}

func parseEditModalID(id string) (uint64, bool) {
	rest, found := strings.CutPrefix(id, editModalPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return n, err == nil && n > 0
}

func textInput(id, label string, style discordgo.TextInputStyle, required bool, max int, value string) discordgo.MessageComponent {
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.TextInput{
			CustomID:  id,
			Label:     label,
			Style:     style,
			Required:  required,
			MaxLength: max,
			Value:     value,
		},
	}}
}

func submitModal(anonymous, private bool) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: submitModalID(anonymous, private),
		Title:    "Share a thought",
		Components: []discordgo.MessageComponent{
			textInput(fieldContent, "Your thought", discordgo.TextInputParagraph, true, model.MaxContentLength, ""),
			textInput(fieldCategory, "Category", discordgo.TextInputShort, false, model.MaxCategoryLength, ""),
			textInput(fieldImage, "Image URL", discordgo.TextInputShort, false, 512, ""),
		},
	}
}

func editModal(t *model.Thought) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: editModalID(t.ID),
		Title:    fmt.Sprintf("Edit thought #%d", t.ID),
		Components: []discordgo.MessageComponent{
			textInput(fieldContent, "Your thought", discordgo.TextInputParagraph, true, model.MaxContentLength, t.Content),
			textInput(fieldCategory, "Category", discordgo.TextInputShort, false, model.MaxCategoryLength, t.Category),
		},
	}
}

// modalValues 取出 modal 中各输入框的值
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := map[string]string{}
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if ti, ok := inner.(*discordgo.TextInput); ok {
				out[ti.CustomID] = ti.Value
			}
		}
	}
	return out
}

func receiptMessage(r *service.Receipt) string {
	switch r.Outcome {
	case service.DeliveredPrivate:
		return fmt.Sprintf("Thought #%d saved and sent to your DMs.", r.PostID)
	case service.DeliveryFailed:
		return fmt.Sprintf("Thought #%d was saved, but it could not be posted.", r.PostID)
	default:
		if !r.Indexed {
			return fmt.Sprintf("Thought #%d posted. It may not be removable from the channel later.", r.PostID)
		}
		return fmt.Sprintf("Thought #%d posted.", r.PostID)
	}
}

func deleteMessage(postID uint64, outcome service.DeleteOutcome) string {
	switch outcome {
	case service.Deleted:
		return fmt.Sprintf("Thought #%d deleted.", postID)
	case service.DeletedStoreOnly:
		return fmt.Sprintf("Thought #%d deleted. The posted card could not be removed.", postID)
	default:
		return service.UserMessage(service.ErrNotFoundOrForbidden)
	}
}

// formatList 列表消息，每条一行
func formatList(title string, res *service.ListResult) string {
	if len(res.Items) == 0 {
		return title + "\nNothing here yet."
	}
	lines := lo.Map(res.Items, func(t *model.Thought, _ int) string {
		line := fmt.Sprintf("`#%d` [%s] %s", t.ID, t.Category, preview(t.Content))
		if t.IsPrivate {
			line += " (private)"
		}
		return line
	})
	return fmt.Sprintf("%s (page %d)\n%s", title, res.Page, strings.Join(lines, "\n"))
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= listPreviewRunes {
		return s
	}
	return string(r[:listPreviewRunes-1]) + "…"
}
