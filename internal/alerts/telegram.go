// Package alerts отправляет оповещения операторам о событиях,
// требующих ручного разбора: платеж без сессии, цикл в реферальной
// цепочке, неудачный подбор средств. Оповещения — побочный канал,
// их отказ никогда не влияет на обработку платежей.
package alerts

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier интерфейс оповещения операторов
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// TelegramNotifier отправляет оповещения в операторский чат Telegram
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier создает оповещатель.
// При пустом токене возвращает nil — вызывающие обязаны пользоваться
// оберткой Notify, безопасной для nil.
func NewTelegramNotifier(botToken string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	if botToken == "" || chatID == 0 {
		logger.Info("оповещения операторов отключены: токен или чат не заданы")
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}

	logger.Info("оповещения операторов включены", zap.Int64("chat_id", chatID))

	return &TelegramNotifier{
		bot:    bot,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Notify отправляет сообщение в операторский чат. Безопасен на nil-приемнике.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	if n == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, message)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("ошибка отправки оповещения операторам", zap.Error(err))
	}
}
