package bot

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"VPN-Shop-bot/internal/admin"
	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/pricing"
)

// adminReplyKeyboard puts the admin commands under the input field.
func adminReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	var row []tgbotapi.KeyboardButton
	for _, cmd := range admin.Commands() {
		row = append(row, tgbotapi.NewKeyboardButton(cmd))
	}
	return tgbotapi.NewReplyKeyboard(row)
}

func button(text, data string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(text, data))
}

func mainMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "menu_buy"), "menu:buy"),
		button(tr(lang, "menu_account"), "menu:account"),
		button(tr(lang, "menu_lang"), "menu:lang"),
	)
}

func accountMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "menu_orders"), "menu:orders"),
		button(tr(lang, "menu_configs"), "menu:configs"),
		button(tr(lang, "back"), "back:main"),
	)
}

func languageMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, l := range languageLabels {
		rows = append(rows, button(l.label, "lang:"+l.code))
	}
	rows = append(rows, button(tr(lang, "back"), "back:main"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func buyMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "buy_ready"), "buy:ready"),
		button(tr(lang, "buy_custom"), "buy:custom"),
		button(tr(lang, "back"), "back:main"),
	)
}

// readyPlanMenu shows every tier with its one-month price.
func readyPlanMenu(lang string, prices map[string]pricing.Amount) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, plan := range pricing.Tiers {
		label := tr(lang, "plan_"+plan)
		if a, ok := prices[plan]; ok {
			label = fmt.Sprintf("%s · $%s", label, usd(a.USDCents))
		}
		rows = append(rows, button(label, "ready_plan:"+plan))
	}
	rows = append(rows, button(tr(lang, "buy_custom"), "buy:custom"))
	rows = append(rows, button(tr(lang, "back"), "back:buy"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func readyMonthsMenu(lang, plan string, prices map[int]pricing.Amount) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range pricing.Months {
		label := tr(lang, "months_short", m)
		if a, ok := prices[m]; ok {
			label = fmt.Sprintf("%s · $%s", label, usd(a.USDCents))
		}
		rows = append(rows, button(label, fmt.Sprintf("ready_month:%s:%d", plan, m)))
	}
	rows = append(rows, button(tr(lang, "back"), "buy:ready"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func customServerMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range pricing.Servers {
		rows = append(rows, button(tr(lang, "server_"+s), "custom_server:"+s))
	}
	rows = append(rows, button(tr(lang, "back"), "back:buy"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func customProtocolMenu(lang, server string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range pricing.Protocols {
		rows = append(rows, button(p, fmt.Sprintf("custom_protocol:%s:%s", server, p)))
	}
	rows = append(rows, button(tr(lang, "back"), "buy:custom"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func customMonthsMenu(lang, server, protocol string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range pricing.Months {
		rows = append(rows, button(tr(lang, "months_short", m), fmt.Sprintf("custom_month:%s:%s:%d", server, protocol, m)))
	}
	rows = append(rows, button(tr(lang, "back"), "custom_server:"+server))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func customDevicesMenu(lang, server, protocol string, months int) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for d := 1; d <= pricing.MaxDevices; d++ {
		rows = append(rows, button(tr(lang, "devices_short", d), fmt.Sprintf("custom_devices:%s:%s:%d:%d", server, protocol, months, d)))
	}
	rows = append(rows, button(tr(lang, "back"), fmt.Sprintf("custom_protocol:%s:%s", server, protocol)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func paymentMenu(lang string, methods []string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range methods {
		rows = append(rows, button(tr(lang, "payment_"+m), "payment:"+m))
	}
	rows = append(rows, button(tr(lang, "back"), "back:buy"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func summaryMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "summary_pay"), "pay:start"),
		button(tr(lang, "back"), "back:payment"),
		button(tr(lang, "back_to_main"), "back:main"),
	)
}

func simulationMenu(lang string, orderID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "pay_success"), fmt.Sprintf("pay:result:success:%d", orderID)),
		button(tr(lang, "pay_failed"), fmt.Sprintf("pay:result:failed:%d", orderID)),
		button(tr(lang, "pay_cancel"), fmt.Sprintf("pay:result:cancel:%d", orderID)),
		button(tr(lang, "back"), "back:payment"),
	)
}

func cryptoBotMenu(lang string, orderID uint, payURL string) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if payURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(tr(lang, "cryptobot_open_invoice"), payURL)))
	}
	rows = append(rows,
		button(tr(lang, "cryptobot_check"), fmt.Sprintf("pay:check:cryptobot:%d", orderID)),
		button(tr(lang, "back"), "back:payment"),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func retryMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "pay_retry"), "pay:start"),
		button(tr(lang, "back"), "back:payment"),
		button(tr(lang, "back_to_main"), "back:main"),
	)
}

func doneMenu(lang string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		button(tr(lang, "menu_buy"), "menu:buy"),
		button(tr(lang, "back_to_main"), "back:main"),
	)
}

// configsMenu offers a refresh for every connection that is no longer in progress.
func configsMenu(lang string, conns []db.Connection) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range conns {
		if c.Status == db.ConnReady || c.Status == db.ConnFailed || c.Status == db.ConnExpired {
			rows = append(rows, button(tr(lang, "config_renew", c.ID), "conn:renew:"+strconv.FormatUint(uint64(c.ID), 10)))
		}
	}
	rows = append(rows, button(tr(lang, "back"), "menu:account"))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
