// Package leaderboard ranks resolution counts and renders them for Slack.
package leaderboard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/slack-go/slack"
	"github.com/support-tools/resolution-leaderboard/internal/models"
)

const (
	// Title heads every leaderboard
	Title = "🏆 Weekly Resolution Leaderboard"
	// EmptyText is rendered when nobody resolved anything
	EmptyText = "_No resolutions logged this week._"

	markerVersion = "v1"
	// Slack rejects section text longer than this
	maxSectionText = 3000
)

var (
	medals        = []string{"🥇", "🥈", "🥉"}
	markerPattern = regexp.MustCompile(`^\[resolution-leaderboard:v1 week=(\d{4}-\d{2}-\d{2})\]`)
)

// Format ranks counts by count descending, then user ID ascending, and
// renders the leaderboard text. names maps user IDs to display names;
// users without a name are rendered as mentions.
func Format(counts map[string]int, week models.Week, names map[string]string) models.Leaderboard {
	entries := make([]models.LeaderboardEntry, 0, len(counts))
	total := 0
	for userID, count := range counts {
		if count <= 0 {
			continue
		}
		total += count
		entries = append(entries, models.LeaderboardEntry{
			UserID:      userID,
			DisplayName: names[userID],
			Count:       count,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	lb := models.Leaderboard{
		Week:    week,
		Entries: entries,
		Total:   total,
	}
	lb.Text = render(lb)
	return lb
}

func render(lb models.Leaderboard) string {
	var b strings.Builder
	b.WriteString(Title + "\n")
	b.WriteString(weekLine(lb.Week) + "\n\n")

	if lb.IsEmpty() {
		b.WriteString(EmptyText)
		return b.String()
	}

	for _, entry := range lb.Entries {
		b.WriteString(EntryLine(entry) + "\n")
	}
	b.WriteString("\n" + totalLine(lb.Total))
	return b.String()
}

// EntryLine renders one ranked user, e.g. "🥇 *Ada*: 3 resolutions"
func EntryLine(entry models.LeaderboardEntry) string {
	return fmt.Sprintf("%s %s: %d %s", rankLabel(entry.Rank), userLabel(entry), entry.Count, plural(entry.Count))
}

func rankLabel(rank int) string {
	if rank >= 1 && rank <= len(medals) {
		return medals[rank-1]
	}
	return fmt.Sprintf("%d.", rank)
}

func userLabel(entry models.LeaderboardEntry) string {
	if entry.DisplayName == "" {
		return fmt.Sprintf("<@%s>", entry.UserID)
	}
	return fmt.Sprintf("*%s*", entry.DisplayName)
}

func plural(count int) string {
	if count == 1 {
		return "resolution"
	}
	return "resolutions"
}

func weekLine(week models.Week) string {
	return fmt.Sprintf("*Week of %s*", week.Label())
}

func totalLine(total int) string {
	return fmt.Sprintf("📊 *Total resolutions:* %d", total)
}

// Marker is the machine-readable tag that identifies a posted leaderboard
func Marker(week models.Week) string {
	return fmt.Sprintf("[resolution-leaderboard:%s week=%s]", markerVersion, week.ID())
}

// ParseMarker returns the week ID of a message text that starts with a
// leaderboard marker
func ParseMarker(text string) (string, bool) {
	m := markerPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FallbackText is the notification text of a posted leaderboard. It always
// starts with the marker.
func FallbackText(lb models.Leaderboard) string {
	return fmt.Sprintf("%s Weekly Resolution Leaderboard (%s)", Marker(lb.Week), lb.Week.Label())
}

// Blocks renders the leaderboard as Block Kit blocks
func Blocks(lb models.Leaderboard) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, Title, true, false)),
		markdownSection(weekLine(lb.Week)),
		slack.NewDividerBlock(),
	}

	footer := []slack.MixedElement{}
	if lb.IsEmpty() {
		blocks = append(blocks, markdownSection(EmptyText))
	} else {
		for _, chunk := range entryChunks(lb.Entries) {
			blocks = append(blocks, markdownSection(chunk))
		}
		blocks = append(blocks, slack.NewDividerBlock())
		footer = append(footer, slack.NewTextBlockObject(slack.MarkdownType, totalLine(lb.Total), false, false))
	}
	footer = append(footer, slack.NewTextBlockObject(slack.PlainTextType, Marker(lb.Week), false, false))

	return append(blocks, slack.NewContextBlock("", footer...))
}

func markdownSection(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

// entryChunks splits entry lines into section-sized texts
func entryChunks(entries []models.LeaderboardEntry) []string {
	var chunks []string
	var b strings.Builder
	for _, entry := range entries {
		line := EntryLine(entry)
		if b.Len() > 0 && b.Len()+len(line)+1 > maxSectionText {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}
