// Package tarot содержит колоду Таро Райдера-Уэйта.
package tarot

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"horo-bot/internal/domain"
)

type major struct {
	name    string
	ru      string
	meaning string
}

var majors = []major{
	{"The Fool", "Шут", "Начало нового пути, спонтанность и доверие жизни. Время сделать шаг в неизвестность без лишних сомнений."},
	{"The Magician", "Маг", "Воля, мастерство и умение воплощать замыслы. У вас есть все инструменты, чтобы добиться желаемого."},
	{"The High Priestess", "Верховная Жрица", "Интуиция, тайное знание и внутренний голос. Прислушайтесь к себе, ответ уже внутри вас."},
	{"The Empress", "Императрица", "Изобилие, забота и плодородие. Период роста, творчества и гармонии с окружающим миром."},
	{"The Emperor", "Император", "Власть, порядок и ответственность. Опирайтесь на структуру, дисциплину и ясные правила."},
	{"The Hierophant", "Иерофант", "Традиции, наставничество и духовные ценности. Полезен совет опытного человека или проверенный путь."},
	{"The Lovers", "Влюблённые", "Любовь, союз и важный выбор. Решение стоит принимать сердцем, оставаясь честным с собой."},
	{"The Chariot", "Колесница", "Движение вперёд, победа и самоконтроль. Направьте энергию на цель, и препятствия отступят."},
	{"Strength", "Сила", "Внутренняя сила, терпение и мягкость. Настойчивость и доброта помогут справиться с трудностями."},
	{"The Hermit", "Отшельник", "Уединение, поиск истины и мудрость. Время остановиться и подумать о том, что действительно важно."},
	{"Wheel of Fortune", "Колесо Фортуны", "Перемены, судьба и новый цикл. Обстоятельства меняются, используйте открывшиеся возможности."},
	{"Justice", "Справедливость", "Равновесие, честность и последствия поступков. Всё вернётся по заслугам, будьте объективны."},
	{"The Hanged Man", "Повешенный", "Пауза, жертва и взгляд под новым углом. Иногда лучше отпустить ситуацию и подождать."},
	{"Death", "Смерть", "Завершение этапа и глубокая трансформация. Старое уходит, освобождая место для нового."},
	{"Temperance", "Умеренность", "Гармония, терпение и чувство меры. Ищите золотую середину и не торопите события."},
	{"The Devil", "Дьявол", "Искушения, зависимости и привязанности. Осознайте, что держит вас, чтобы освободиться."},
	{"The Tower", "Башня", "Внезапные перемены и разрушение иллюзий. Потрясение расчищает дорогу для честного начала."},
	{"The Star", "Звезда", "Надежда, вдохновение и исцеление. Верьте в лучшее, впереди светлый и спокойный период."},
	{"The Moon", "Луна", "Иллюзии, страхи и подсознание. Не всё таково, каким кажется, доверяйте интуиции и будьте внимательны."},
	{"The Sun", "Солнце", "Радость, успех и ясность. Удачный период, когда всё получается и окружающие вас поддерживают."},
	{"Judgement", "Суд", "Пробуждение, подведение итогов и второй шанс. Прошлое отпускает, пора ответить на внутренний зов."},
	{"The World", "Мир", "Завершённость, целостность и достижение цели. Цикл успешно закончен, вы на вершине."},
}

type suit struct {
	code  string
	name  string
	ru    string
	theme string
}

var suits = []suit{
	{"wa", "Wands", "Жезлов", "энергии, страсти и новых начинаний"},
	{"cu", "Cups", "Кубков", "чувств, отношений и эмоций"},
	{"sw", "Swords", "Мечей", "мыслей, решений и конфликтов"},
	{"pe", "Pentacles", "Пентаклей", "денег, работы и материального мира"},
}

type rank struct {
	code    string
	name    string
	ru      string
	meaning string
}

var ranks = []rank{
	{"ac", "Ace", "Туз", "Новая возможность и сильный импульс в сфере"},
	{"02", "Two", "Двойка", "Выбор, партнёрство и поиск баланса в сфере"},
	{"03", "Three", "Тройка", "Первые результаты и развитие в сфере"},
	{"04", "Four", "Четвёрка", "Стабильность и закрепление достигнутого в сфере"},
	{"05", "Five", "Пятёрка", "Испытания, потери и напряжение в сфере"},
	{"06", "Six", "Шестёрка", "Восстановление гармонии и взаимопомощь в сфере"},
	{"07", "Seven", "Семёрка", "Проверка решимости и необходимость оценки в сфере"},
	{"08", "Eight", "Восьмёрка", "Движение, труд и быстрые перемены в сфере"},
	{"09", "Nine", "Девятка", "Близость к цели и накопленный опыт в сфере"},
	{"10", "Ten", "Десятка", "Завершение цикла и его итог в сфере"},
	{"pa", "Page", "Паж", "Вести, учёба и любопытство в сфере"},
	{"kn", "Knight", "Рыцарь", "Стремительное действие и погоня за целью в сфере"},
	{"qu", "Queen", "Королева", "Зрелая забота и мудрое управление в сфере"},
	{"ki", "King", "Король", "Власть, контроль и ответственность в сфере"},
}

// Deck: полная колода из 78 карт.
type Deck struct {
	cards []domain.Card
	intn  func(n int) int
}

// NewDeck собирает колоду. imageBase: адрес каталога с изображениями карт.
func NewDeck(imageBase string) *Deck {
	base := strings.TrimRight(imageBase, "/")
	cards := make([]domain.Card, 0, len(majors)+len(suits)*len(ranks))
	for i, m := range majors {
		cards = append(cards, domain.Card{
			Name:          m.name,
			LocalizedName: m.ru,
			Ordinal:       i,
			ImageURL:      fmt.Sprintf("%s/ar%02d.jpg", base, i),
			Meaning:       m.meaning,
			Major:         true,
		})
	}
	for _, s := range suits {
		for _, r := range ranks {
			cards = append(cards, domain.Card{
				Name:          r.name + " of " + s.name,
				LocalizedName: r.ru + " " + s.ru,
				Ordinal:       len(cards),
				ImageURL:      fmt.Sprintf("%s/%s%s.jpg", base, s.code, r.code),
				Meaning:       r.meaning + " " + s.theme + ".",
			})
		}
	}
	return &Deck{cards: cards, intn: rand.IntN}
}

// Cards возвращает копию колоды.
func (d *Deck) Cards() []domain.Card {
	out := make([]domain.Card, len(d.cards))
	copy(out, d.cards)
	return out
}

// Draw вытягивает случайную карту.
func (d *Deck) Draw() domain.Card {
	return d.cards[d.intn(len(d.cards))]
}
