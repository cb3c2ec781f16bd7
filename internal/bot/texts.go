package bot

import "fmt"

var texts = map[string]map[string]string{
	"en": {
		"welcome":                 "Welcome! Pick a VPN plan and get a ready config in a couple of minutes.",
		"menu_buy":                "Buy VPN",
		"menu_account":            "My account",
		"menu_lang":               "Language",
		"menu_orders":             "My orders",
		"menu_configs":            "My configs",
		"back":                    "Back",
		"back_to_main":            "Main menu",
		"lang_title":              "Choose a language:",
		"buy_title":               "Ready plan or build your own?",
		"buy_ready":               "Ready plans",
		"buy_custom":              "Custom plan",
		"ready_plan_title":        "Choose a plan:",
		"ready_months_title":      "Choose the duration:",
		"custom_server_title":     "Choose a server location:",
		"custom_protocol_title":   "Choose a protocol:",
		"custom_months_title":     "Choose the duration:",
		"custom_devices_title":    "How many devices?",
		"payment_title":           "Choose a payment method:",
		"payment_sbp":             "Card / SBP (test)",
		"payment_stars":           "Telegram Stars",
		"payment_cryptobot":       "CryptoBot",
		"summary_pay":             "Pay",
		"pay_missing_draft":       "Your selection is incomplete. Please pick a plan again.",
		"pay_missing_order":       "Order not found.",
		"pay_unavailable":         "The payment service is unavailable right now. Try again in a minute.",
		"pay_sim_title":           "Order #%d: %s\nChoose the payment outcome:",
		"pay_success":             "Payment succeeded",
		"pay_failed":              "Payment failed",
		"pay_cancel":              "Cancel payment",
		"pay_retry":               "Try again",
		"pay_paid":                "Payment for order #%d received. Your config is being prepared, I will send it here.",
		"pay_failed_text":         "Payment for order #%d failed. You can try again.",
		"pay_cancel_text":         "Order #%d was cancelled.",
		"pay_expired_text":        "Order #%d expired without payment.",
		"pay_slow_down":           "Please wait a few seconds before trying again.",
		"stars_invoice_title":     "VPN %s, %d mo",
		"stars_invoice_sent":      "Order #%d: the invoice is above. Pay it with Stars and I will confirm automatically.",
		"stars_precheckout_error": "This invoice is no longer valid. Please create a new order.",
		"cryptobot_invoice_text":  "Order #%d: %s\nOpen the invoice, pay it, then press \"Check payment\".",
		"cryptobot_open_invoice":  "Open invoice",
		"cryptobot_check":         "Check payment",
		"cryptobot_pending":       "Payment for order #%d is not confirmed yet. Check again in a moment.",
		"orders_title":            "Your orders:",
		"orders_empty":            "You have no orders yet.",
		"configs_title":           "Your configs:",
		"configs_empty":           "You have no configs yet.",
		"config_renew":            "Refresh #%d",
		"config_ready":            "Your config for order #%d is ready (valid until %s):\n\n%s",
		"config_failed":           "Config for order #%d could not be created. Support has been notified.",
		"config_expiring":         "Your config for order #%d expires on %s. Buy a new plan to stay connected.",
		"config_expired":          "Your config for order #%d has expired.",
		"renew_started":           "Refresh of config #%d requested. I will send the new config here.",
		"renew_busy":              "Config #%d is still being prepared.",
		"renew_unavailable":       "The provisioning service is unavailable right now. Try again later.",
		"status_pending":          "pending",
		"status_paid":             "paid",
		"status_failed":           "failed",
		"status_cancelled":        "cancelled",
		"conn_submitted":          "queued",
		"conn_polling":            "in progress",
		"conn_ready":              "ready",
		"conn_failed":             "failed",
		"conn_expired":            "expired",
		"server_auto":             "Auto",
		"server_de":               "Germany",
		"server_fi":               "Finland",
		"server_no":               "Norway",
		"server_nl":               "Netherlands",
		"plan_basic":              "Basic",
		"plan_standard":           "Standard",
		"plan_premium":            "Premium",
		"plan_custom":             "Custom",
		"months_short":            "%d mo",
		"devices_short":           "%d dev.",
		"offer":                   "%s, %s, %s, %d mo, %d device(s)\nPrice: $%s / %d RUB / %d Stars\nPayment: %s",
		"not_selected":            "not selected",
		"error":                   "Something went wrong. Please try again.",
	},
	"ru": {
		"welcome":                 "Добро пожаловать! Выберите тариф VPN и получите готовый конфиг за пару минут.",
		"menu_buy":                "Купить VPN",
		"menu_account":            "Личный кабинет",
		"menu_lang":               "Язык",
		"menu_orders":             "Мои заказы",
		"menu_configs":            "Мои конфиги",
		"back":                    "Назад",
		"back_to_main":            "Главное меню",
		"lang_title":              "Выберите язык:",
		"buy_title":               "Готовый тариф или собрать свой?",
		"buy_ready":               "Готовые тарифы",
		"buy_custom":              "Собрать свой",
		"ready_plan_title":        "Выберите тариф:",
		"ready_months_title":      "Выберите срок:",
		"custom_server_title":     "Выберите локацию сервера:",
		"custom_protocol_title":   "Выберите протокол:",
		"custom_months_title":     "Выберите срок:",
		"custom_devices_title":    "Сколько устройств?",
		"payment_title":           "Выберите способ оплаты:",
		"payment_sbp":             "Карта / СБП (тест)",
		"payment_stars":           "Telegram Stars",
		"payment_cryptobot":       "CryptoBot",
		"summary_pay":             "Оплатить",
		"pay_missing_draft":       "Выбор не завершён. Пожалуйста, выберите тариф заново.",
		"pay_missing_order":       "Заказ не найден.",
		"pay_unavailable":         "Платёжный сервис сейчас недоступен. Попробуйте через минуту.",
		"pay_sim_title":           "Заказ #%d: %s\nВыберите результат оплаты:",
		"pay_success":             "Оплата прошла",
		"pay_failed":              "Оплата не прошла",
		"pay_cancel":              "Отменить оплату",
		"pay_retry":               "Попробовать снова",
		"pay_paid":                "Оплата заказа #%d получена. Конфиг готовится, я пришлю его сюда.",
		"pay_failed_text":         "Оплата заказа #%d не прошла. Можно попробовать снова.",
		"pay_cancel_text":         "Заказ #%d отменён.",
		"pay_expired_text":        "Заказ #%d истёк без оплаты.",
		"pay_slow_down":           "Пожалуйста, подождите пару секунд.",
		"stars_invoice_title":     "VPN %s, %d мес.",
		"stars_invoice_sent":      "Заказ #%d: счёт выше. Оплатите его звёздами, подтверждение придёт автоматически.",
		"stars_precheckout_error": "Счёт больше не действителен. Создайте новый заказ.",
		"cryptobot_invoice_text":  "Заказ #%d: %s\nОткройте счёт, оплатите и нажмите «Проверить оплату».",
		"cryptobot_open_invoice":  "Открыть счёт",
		"cryptobot_check":         "Проверить оплату",
		"cryptobot_pending":       "Оплата заказа #%d ещё не подтверждена. Проверьте чуть позже.",
		"orders_title":            "Ваши заказы:",
		"orders_empty":            "У вас пока нет заказов.",
		"configs_title":           "Ваши конфиги:",
		"configs_empty":           "У вас пока нет конфигов.",
		"config_renew":            "Обновить #%d",
		"config_ready":            "Конфиг для заказа #%d готов (действует до %s):\n\n%s",
		"config_failed":           "Не удалось создать конфиг для заказа #%d. Поддержка уже в курсе.",
		"config_expiring":         "Конфиг для заказа #%d истекает %s. Купите новый тариф, чтобы остаться на связи.",
		"config_expired":          "Срок действия конфига для заказа #%d истёк.",
		"renew_started":           "Запрошено обновление конфига #%d. Новый конфиг придёт сюда.",
		"renew_busy":              "Конфиг #%d ещё готовится.",
		"renew_unavailable":       "Сервис выдачи конфигов сейчас недоступен. Попробуйте позже.",
		"status_pending":          "ожидает оплаты",
		"status_paid":             "оплачен",
		"status_failed":           "ошибка оплаты",
		"status_cancelled":        "отменён",
		"conn_submitted":          "в очереди",
		"conn_polling":            "готовится",
		"conn_ready":              "готов",
		"conn_failed":             "ошибка",
		"conn_expired":            "истёк",
		"server_auto":             "Авто",
		"server_de":               "Германия",
		"server_fi":               "Финляндия",
		"server_no":               "Норвегия",
		"server_nl":               "Нидерланды",
		"plan_basic":              "Базовый",
		"plan_standard":           "Стандарт",
		"plan_premium":            "Премиум",
		"plan_custom":             "Свой",
		"months_short":            "%d мес.",
		"devices_short":           "%d устр.",
		"offer":                   "%s, %s, %s, %d мес., устройств: %d\nЦена: $%s / %d ₽ / %d ⭐\nОплата: %s",
		"not_selected":            "не выбрана",
		"error":                   "Что-то пошло не так. Попробуйте ещё раз.",
	},
}

var languageLabels = []struct{ code, label string }{
	{"en", "English"},
	{"ru", "Русский"},
}

// tr returns the text for key, falling back to English and then to the key itself.
func tr(lang, key string, args ...interface{}) string {
	s, ok := texts[lang][key]
	if !ok {
		if s, ok = texts["en"][key]; !ok {
			s = key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}

func usd(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
