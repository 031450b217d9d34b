package domain

// TopicJoke: тема ежедневной рассылки анекдотов.
const TopicJoke = "joke"

// ZodiacSigns перечисляет знаки в порядке отображения.
var ZodiacSigns = []string{
	"aries",
	"taurus",
	"gemini",
	"cancer",
	"leo",
	"virgo",
	"libra",
	"scorpio",
	"sagittarius",
	"capricorn",
	"aquarius",
	"pisces",
}

var signTitles = map[string]string{
	"aries":       "Овен",
	"taurus":      "Телец",
	"gemini":      "Близнецы",
	"cancer":      "Рак",
	"leo":         "Лев",
	"virgo":       "Дева",
	"libra":       "Весы",
	"scorpio":     "Скорпион",
	"sagittarius": "Стрелец",
	"capricorn":   "Козерог",
	"aquarius":    "Водолей",
	"pisces":      "Рыбы",
}

// IsValidSign проверяет идентификатор знака. Сравнение чувствительно к регистру.
func IsValidSign(sign string) bool {
	_, ok := signTitles[sign]
	return ok
}

// IsValidTopic допускает знаки зодиака и шутки.
func IsValidTopic(topic string) bool {
	return topic == TopicJoke || IsValidSign(topic)
}

// TopicTitle возвращает русское название темы.
func TopicTitle(topic string) string {
	if topic == TopicJoke {
		return "Анекдоты"
	}
	if title, ok := signTitles[topic]; ok {
		return title
	}
	return topic
}
