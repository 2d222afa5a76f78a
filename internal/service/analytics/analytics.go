// Package analytics aggregates usage statistics over a user's session
// collection. The computation is pure: it never mutates the collection and
// never fails, an empty collection just yields a zeroed report.
package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/buddy-ai/buddy/internal/model/chat"
)

// DayCount is one bucket of the trailing seven day activity series.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// Report is the full analytics snapshot for one user.
type Report struct {
	TotalChats             int            `json:"totalChats"`
	TotalMessages          int            `json:"totalMessages"`
	TotalUserMessages      int            `json:"totalUserMessages"`
	TotalAssistantMessages int            `json:"totalAssistantMessages"`
	TotalUserChars         int            `json:"totalUserChars"`
	TotalAssistantChars    int            `json:"totalAssistantChars"`
	TotalUserWords         int            `json:"totalUserWords"`
	AvgMessagesPerChat     float64        `json:"avgMessagesPerChat"`
	LongestChatTitle       string         `json:"longestChatTitle"`
	LongestChatLen         int            `json:"longestChatLen"`
	ChatsLast7Days         []DayCount     `json:"chatsLast7Days"`
	MessagesLast7Days      []DayCount     `json:"messagesLast7Days"`
	MostActiveDay          string         `json:"mostActiveDay"`
	MostActiveHour         string         `json:"mostActiveHour"`
	PersonaUsage           map[string]int `json:"personaUsage"`
	TodayChats             int            `json:"todayChats"`
	TodayMessages          int            `json:"todayMessages"`
}

// Compute builds a report over the collection. now anchors the "today" and
// trailing week windows.
func Compute(sessions chat.Collection, now time.Time) Report {
	report := Report{
		MostActiveDay:     "-",
		MostActiveHour:    "-",
		PersonaUsage:      map[string]int{},
		ChatsLast7Days:    []DayCount{},
		MessagesLast7Days: []DayCount{},
	}
	if len(sessions) == 0 {
		return report
	}

	today := now.Truncate(24 * time.Hour)
	weekStart := today.AddDate(0, 0, -6)

	chatsByDay := make(map[string]int)
	messagesByDay := make(map[string]int)
	weekdayCounts := make(map[time.Weekday]int)
	hourCounts := make(map[int]int)

	for _, session := range sessions {
		report.TotalChats++

		for _, msg := range session.Messages {
			switch msg.Role {
			case chat.RoleUser:
				report.TotalUserMessages++
				report.TotalUserChars += len(msg.Content)
				report.TotalUserWords += len(strings.Fields(msg.Content))
			case chat.RoleAssistant:
				report.TotalAssistantMessages++
				report.TotalAssistantChars += len(msg.Content)
			}
		}

		if n := len(session.Messages); n > report.LongestChatLen {
			report.LongestChatLen = n
			report.LongestChatTitle = session.Title
		}

		report.PersonaUsage[personaLabel(session.Persona)]++

		created := session.CreatedAt
		if created.IsZero() {
			continue
		}
		day := created.Truncate(24 * time.Hour)

		// Peaks weigh each session's bucket by its message volume, so one
		// long conversation can outrank several short ones.
		weekdayCounts[created.Weekday()] += len(session.Messages)
		hourCounts[created.Hour()] += len(session.Messages)

		if !day.Before(weekStart) && !day.After(today) {
			chatsByDay[day.Format("Mon")]++
		}
		if day.Equal(today) {
			report.TodayChats++
			report.TodayMessages += len(session.Messages)
		}

		for _, msg := range session.Messages {
			if msg.CreatedAt.IsZero() {
				continue
			}
			msgDay := msg.CreatedAt.Truncate(24 * time.Hour)
			if !msgDay.Before(weekStart) && !msgDay.After(today) {
				messagesByDay[msgDay.Format("Mon")]++
			}
		}
	}

	report.TotalMessages = report.TotalUserMessages + report.TotalAssistantMessages
	if report.TotalChats > 0 {
		avg := float64(report.TotalMessages) / float64(report.TotalChats)
		report.AvgMessagesPerChat = math.Round(avg*10) / 10
	}

	for i := 0; i < 7; i++ {
		label := weekStart.AddDate(0, 0, i).Format("Mon")
		report.ChatsLast7Days = append(report.ChatsLast7Days, DayCount{Day: label, Count: chatsByDay[label]})
		report.MessagesLast7Days = append(report.MessagesLast7Days, DayCount{Day: label, Count: messagesByDay[label]})
	}

	if day, ok := peakWeekday(weekdayCounts); ok {
		// Same 3-letter label the 7-day series uses.
		report.MostActiveDay = day.String()[:3]
	}
	if hour, ok := peakHour(hourCounts); ok {
		report.MostActiveHour = fmt.Sprintf("%02d:00", hour)
	}

	return report
}

func personaLabel(name string) string {
	if name == "" {
		return "Default"
	}
	return name
}

// peakWeekday picks the busiest weekday; ties break toward the earlier
// weekday in Sunday-first order.
func peakWeekday(counts map[time.Weekday]int) (time.Weekday, bool) {
	best := time.Sunday
	bestCount := 0
	for day := time.Sunday; day <= time.Saturday; day++ {
		if counts[day] > bestCount {
			best = day
			bestCount = counts[day]
		}
	}
	return best, bestCount > 0
}

func peakHour(counts map[int]int) (int, bool) {
	best, bestCount := 0, 0
	for hour := 0; hour < 24; hour++ {
		if counts[hour] > bestCount {
			best = hour
			bestCount = counts[hour]
		}
	}
	return best, bestCount > 0
}
