package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"horo-bot/internal/adapters/scraper"
	"horo-bot/internal/domain"
)

const (
	jokeSubscribeLabel   = "Подписаться на шутки"
	jokeUnsubscribeLabel = "Отписаться от шуток"
)

func signsKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(domain.ZodiacSigns); i += 3 {
		var row []tgbotapi.InlineKeyboardButton
		for _, sign := range domain.ZodiacSigns[i:min(i+3, len(domain.ZodiacSigns))] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(domain.TopicTitle(sign), "sign:"+sign))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func signDetailKeyboard(sign string, subscribed bool) tgbotapi.InlineKeyboardMarkup {
	toggle := tgbotapi.NewInlineKeyboardButtonData("Подписаться", "sub:"+sign)
	if subscribed {
		toggle = tgbotapi.NewInlineKeyboardButtonData("Отписаться", "unsub:"+sign)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(toggle),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Вернуться", "back:list")),
	)
}

func mySubscriptionsKeyboard(topics []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(topics)+1)
	for _, topic := range topics {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отписаться "+domain.TopicTitle(topic), "unsub:"+topic),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Отписаться от всех", "unsub:all")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func jokeKeyboard(subscribed bool) tgbotapi.ReplyKeyboardMarkup {
	label := jokeSubscribeLabel
	if subscribed {
		label = jokeUnsubscribeLabel
	}
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(label)))
	kb.ResizeKeyboard = true
	return kb
}

func tarotKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🃏 Ещё карта", "tarot:draw"),
			tgbotapi.NewInlineKeyboardButtonData("🔮 Расклад дня", "tarot:reading"),
		),
	)
}

func limitKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⭐ Безлимит на 30 дней", "tarot:buy")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔮 Расклад дня", "tarot:reading")),
	)
}

func productButton(p domain.Product) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s · %d ⭐", p.Label, p.Amount), "buy:"+p.Payload)
}

func productsKeyboard(products []domain.Product) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(products))
	for _, p := range products {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(productButton(p)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func spreadsKeyboard(spreads []scraper.Spread) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(spreads))
	for _, s := range spreads {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(s.Title, "spread:"+s.Key)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
