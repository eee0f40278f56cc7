package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreamhive/memgate/pkg/models"
)

// DataType selects which record table an operation targets.
type DataType string

const (
	TypeExpense    DataType = "expense"
	TypeMemory     DataType = "memory"
	TypeChatMemory DataType = "chat_memory"
	TypeDiary      DataType = "diary"
	TypePromise    DataType = "promise"
	TypeWishlist   DataType = "wishlist"
)

func (t DataType) table() (string, bool) {
	switch t {
	case TypeExpense:
		return "expenses", true
	case TypeMemory:
		return "milestones", true
	case TypeChatMemory:
		return "chat_memories", true
	case TypeDiary:
		return "ai_diaries", true
	case TypePromise:
		return "promises", true
	case TypeWishlist:
		return "wishlists", true
	}
	return "", false
}

// Ops exposes the unified query/save/delete/update operations the
// assistant tools call. Each operation dispatches on DataType and returns
// display-ready text.
type Ops struct {
	store *Store
	now   func() time.Time
}

// NewOps wires the operations over a store. Now overrides the clock for
// tests.
func NewOps(store *Store, now func() time.Time) *Ops {
	if now == nil {
		now = time.Now
	}
	return &Ops{store: store, now: now}
}

// QueryArgs drives Query. Period applies to expenses (today/week/month);
// Keyword narrows memories and chat memories.
type QueryArgs struct {
	DataType DataType
	Period   string
	Keyword  string
	Limit    int
}

// Query renders the requested records as text.
func (o *Ops) Query(ctx context.Context, args QueryArgs) (string, error) {
	switch args.DataType {
	case TypeExpense:
		return o.queryExpenses(ctx, args.Period)
	case TypeMemory:
		return o.queryMilestones(ctx, args.Keyword, args.Limit)
	case TypeChatMemory:
		return o.queryChatMemories(ctx, args.Keyword, args.Limit)
	case TypeDiary:
		return o.queryDiaries(ctx, args.Limit)
	case TypePromise:
		return o.queryPromises(ctx)
	case TypeWishlist:
		return o.queryWishlists(ctx)
	}
	return "", fmt.Errorf("不支持的数据类型：%s", args.DataType)
}

func (o *Ops) queryExpenses(ctx context.Context, period string) (string, error) {
	from, to, label := o.periodRange(period)
	expenses, err := o.store.ExpensesBetween(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(expenses) == 0 {
		return fmt.Sprintf("%s还没有消费记录。", label), nil
	}

	var total float64
	lines := []string{}
	for _, e := range expenses {
		total += e.Amount
		line := fmt.Sprintf("- [%s] ¥%.2f", orDefault(e.Category, "其他"), e.Amount)
		if e.Note != "" {
			line += " " + e.Note
		}
		lines = append(lines, line)
	}
	header := fmt.Sprintf("%s消费：共%d笔，合计¥%.2f\n", label, len(expenses), total)
	return header + strings.Join(lines, "\n"), nil
}

// periodRange maps a period name to a Beijing-date range.
func (o *Ops) periodRange(period string) (from, to, label string) {
	now := o.now()
	today := models.BeijingToday(now)
	switch period {
	case "week":
		t, _ := time.Parse("2006-01-02", today)
		// Monday-start week.
		offset := (int(t.Weekday()) + 6) % 7
		start := t.AddDate(0, 0, -offset)
		return start.Format("2006-01-02"), start.AddDate(0, 0, 6).Format("2006-01-02"), "本周"
	case "month":
		t, _ := time.Parse("2006-01-02", today)
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start.Format("2006-01-02"), start.AddDate(0, 1, -1).Format("2006-01-02"), "本月"
	default:
		return today, today, "今日"
	}
}

func (o *Ops) queryMilestones(ctx context.Context, keyword string, limit int) (string, error) {
	var (
		milestones []Milestone
		err        error
	)
	if keyword != "" {
		milestones, err = o.store.SearchMilestones(ctx, keyword, limit)
	} else {
		milestones, err = o.store.ListMilestones(ctx)
	}
	if err != nil {
		return "", err
	}
	if len(milestones) == 0 {
		return "还没有纪念日记录。", nil
	}

	lines := make([]string, 0, len(milestones))
	for _, m := range milestones {
		line := fmt.Sprintf("- [%s] %s", m.HappenedOn, m.Title)
		if m.Note != "" {
			line += "（" + m.Note + "）"
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("纪念日（共%d条）：\n", len(milestones)) + strings.Join(lines, "\n"), nil
}

func (o *Ops) queryChatMemories(ctx context.Context, keyword string, limit int) (string, error) {
	var (
		memories []ChatMemory
		err      error
	)
	if keyword != "" {
		memories, err = o.store.SearchChatMemories(ctx, keyword, limit)
	} else {
		memories, err = o.store.ListChatMemories(ctx, limit)
	}
	if err != nil {
		return "", err
	}
	if len(memories) == 0 {
		return "还没有聊天记忆。", nil
	}

	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		line := "- " + m.Content
		if m.Tags != "" {
			line += fmt.Sprintf("（%s）", m.Tags)
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("聊天记忆（共%d条）：\n", len(memories)) + strings.Join(lines, "\n"), nil
}

func (o *Ops) queryDiaries(ctx context.Context, limit int) (string, error) {
	diaries, err := o.store.RecentDiaries(ctx, limit)
	if err != nil {
		return "", err
	}
	if len(diaries) == 0 {
		return "还没有写过日记。", nil
	}

	parts := make([]string, 0, len(diaries))
	for _, d := range diaries {
		mood := ""
		if d.Mood != "" {
			mood = fmt.Sprintf("（%s）", d.Mood)
		}
		parts = append(parts, fmt.Sprintf("【%s%s】\n%s", d.DiaryDate, mood, d.Content))
	}
	return "日记：\n\n" + strings.Join(parts, "\n\n---\n\n"), nil
}

func (o *Ops) queryPromises(ctx context.Context) (string, error) {
	promises, err := o.store.ListPromises(ctx)
	if err != nil {
		return "", err
	}
	if len(promises) == 0 {
		return "还没有约定记录。", nil
	}
	lines := make([]string, 0, len(promises))
	for _, p := range promises {
		lines = append(lines, fmt.Sprintf("- %s %s", statusMark(p.Status), p.Content))
	}
	return fmt.Sprintf("约定（共%d条）：\n", len(promises)) + strings.Join(lines, "\n"), nil
}

func (o *Ops) queryWishlists(ctx context.Context) (string, error) {
	wishes, err := o.store.ListWishlists(ctx)
	if err != nil {
		return "", err
	}
	if len(wishes) == 0 {
		return "愿望清单是空的。", nil
	}
	lines := make([]string, 0, len(wishes))
	for _, w := range wishes {
		lines = append(lines, fmt.Sprintf("- %s %s", statusMark(w.Status), w.Content))
	}
	return fmt.Sprintf("愿望清单（共%d条）：\n", len(wishes)) + strings.Join(lines, "\n"), nil
}

func statusMark(status string) string {
	if status == "done" {
		return "✅"
	}
	return "⬜"
}

// SaveArgs drives Save. Content doubles as the milestone title; Amount
// and Category only apply to expenses; Mood only to diaries.
type SaveArgs struct {
	DataType DataType
	Content  string
	Amount   float64
	Category string
	Note     string
	Mood     string
	Date     string
	Tags     string
}

// Save inserts one record and returns a confirmation message.
func (o *Ops) Save(ctx context.Context, args SaveArgs) (string, error) {
	date := args.Date
	if date == "" {
		date = models.BeijingToday(o.now())
	}

	switch args.DataType {
	case TypeExpense:
		if args.Amount <= 0 {
			return "", fmt.Errorf("消费金额必须大于0")
		}
		err := o.store.InsertExpense(ctx, &Expense{
			Amount:   args.Amount,
			Category: args.Category,
			Note:     args.Note,
			SpentAt:  date,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("已记录消费：¥%.2f（%s）", args.Amount, orDefault(args.Category, "其他")), nil

	case TypeMemory:
		if args.Content == "" {
			return "", fmt.Errorf("纪念日内容不能为空")
		}
		err := o.store.InsertMilestone(ctx, &Milestone{
			Title:      args.Content,
			Note:       args.Note,
			HappenedOn: date,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("已记录纪念日：%s（%s）", args.Content, date), nil

	case TypeChatMemory:
		if args.Content == "" {
			return "", fmt.Errorf("记忆内容不能为空")
		}
		err := o.store.InsertChatMemory(ctx, &ChatMemory{Content: args.Content, Tags: args.Tags})
		if err != nil {
			return "", err
		}
		return "已记住：" + args.Content, nil

	case TypeDiary:
		if args.Content == "" {
			return "", fmt.Errorf("日记内容不能为空")
		}
		err := o.store.InsertDiary(ctx, &Diary{
			DiaryDate: date,
			Content:   args.Content,
			Mood:      args.Mood,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("日记已保存（%s）。", date), nil

	case TypePromise:
		if args.Content == "" {
			return "", fmt.Errorf("约定内容不能为空")
		}
		if err := o.store.InsertPromise(ctx, &Promise{Content: args.Content}); err != nil {
			return "", err
		}
		return "已记下约定：" + args.Content, nil

	case TypeWishlist:
		if args.Content == "" {
			return "", fmt.Errorf("愿望内容不能为空")
		}
		if err := o.store.InsertWishlist(ctx, &Wishlist{Content: args.Content}); err != nil {
			return "", err
		}
		return "已加入愿望清单：" + args.Content, nil
	}
	return "", fmt.Errorf("不支持的数据类型：%s", args.DataType)
}

// DeleteArgs drives Delete: by ID, by Keyword (newest match), or the
// newest record when both are empty.
type DeleteArgs struct {
	DataType DataType
	ID       string
	Keyword  string
}

// Delete removes one record and returns a confirmation message.
func (o *Ops) Delete(ctx context.Context, args DeleteArgs) (string, error) {
	table, ok := args.DataType.table()
	if !ok {
		return "", fmt.Errorf("不支持的数据类型：%s", args.DataType)
	}

	if args.ID != "" {
		if err := o.store.DeleteByID(ctx, table, args.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return "没有找到这条记录。", nil
			}
			return "", err
		}
		return "已删除。", nil
	}

	content, err := o.store.DeleteLatestMatching(ctx, table, args.Keyword)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "没有找到匹配的记录。", nil
		}
		return "", err
	}
	if content == "" {
		return "已删除最新一条记录。", nil
	}
	return "已删除：" + content, nil
}

// UpdateArgs drives Update. Only promises and wishlists carry a status.
type UpdateArgs struct {
	DataType DataType
	ID       string
	Status   string
}

// Update flips a promise or wishlist status.
func (o *Ops) Update(ctx context.Context, args UpdateArgs) (string, error) {
	var table string
	switch args.DataType {
	case TypePromise:
		table = "promises"
	case TypeWishlist:
		table = "wishlists"
	default:
		return "", fmt.Errorf("只有约定和愿望清单支持更新状态，不支持：%s", args.DataType)
	}

	if err := o.store.UpdateStatus(ctx, table, args.ID, args.Status); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "没有找到这条记录。", nil
		}
		return "", err
	}
	if args.Status == "done" {
		return "已标记为完成。", nil
	}
	return "已标记为待办。", nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
