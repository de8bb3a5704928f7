package numbering

import (
	"fmt"
	"strconv"
)

// Style names a numeral system used when rendering a counter.
type Style string

const (
	StyleArabic          Style = "arabic"
	StyleChinese         Style = "chinese"
	StyleChineseUpper    Style = "chinese_upper"
	StyleCircled         Style = "circled"
	StyleCircledChinese  Style = "circled_chinese"
	StyleEmoji           Style = "emoji"
	StyleUpperAlpha      Style = "upper_alpha"
	StyleLowerAlpha      Style = "lower_alpha"
	StyleUpperRoman      Style = "upper_roman"
	StyleLowerRoman      Style = "lower_roman"
	StyleHeavenlyStems   Style = "heavenly_stems"
	StyleEarthlyBranches Style = "earthly_branches"
)

// Styles lists every supported style in a stable order.
var Styles = []Style{
	StyleArabic,
	StyleChinese,
	StyleChineseUpper,
	StyleCircled,
	StyleCircledChinese,
	StyleEmoji,
	StyleUpperAlpha,
	StyleLowerAlpha,
	StyleUpperRoman,
	StyleLowerRoman,
	StyleHeavenlyStems,
	StyleEarthlyBranches,
}

var (
	chineseDigits      = []string{"", "一", "二", "三", "四", "五", "六", "七", "八", "九"}
	chineseUpperDigits = []string{"", "壹", "贰", "叁", "肆", "伍", "陆", "柒", "捌", "玖"}

	circled = []string{"", "①", "②", "③", "④", "⑤", "⑥", "⑦", "⑧", "⑨", "⑩",
		"⑪", "⑫", "⑬", "⑭", "⑮", "⑯", "⑰", "⑱", "⑲", "⑳"}
	circledChinese = []string{"", "❶", "❷", "❸", "❹", "❺", "❻", "❼", "❽", "❾", "❿"}
	emoji          = []string{"", "1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

	upperRoman = []string{"", "I", "II", "III", "IV", "V", "VI", "VII", "VIII", "IX", "X",
		"XI", "XII", "XIII", "XIV", "XV", "XVI", "XVII", "XVIII", "XIX", "XX"}
	lowerRoman = []string{"", "i", "ii", "iii", "iv", "v", "vi", "vii", "viii", "ix", "x",
		"xi", "xii", "xiii", "xiv", "xv", "xvi", "xvii", "xviii", "xix", "xx"}

	heavenlyStems   = []string{"", "甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
	earthlyBranches = []string{"", "子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}
)

// ParseStyle validates a style name.
func ParseStyle(s string) (Style, error) {
	for _, st := range Styles {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown numeral style %q", s)
}

// Format renders n in the given style. Values a style cannot express fall
// back to arabic digits, as does an unknown style.
func Format(n int, style Style) string {
	switch style {
	case StyleChinese:
		return chineseNumeral(n, chineseDigits, "十")
	case StyleChineseUpper:
		return chineseNumeral(n, chineseUpperDigits, "拾")
	case StyleCircled:
		return fromTable(n, circled)
	case StyleCircledChinese:
		return fromTable(n, circledChinese)
	case StyleEmoji:
		return fromTable(n, emoji)
	case StyleUpperAlpha:
		return alpha(n, 'A')
	case StyleLowerAlpha:
		return alpha(n, 'a')
	case StyleUpperRoman:
		return fromTable(n, upperRoman)
	case StyleLowerRoman:
		return fromTable(n, lowerRoman)
	case StyleHeavenlyStems:
		return fromTable(n, heavenlyStems)
	case StyleEarthlyBranches:
		return fromTable(n, earthlyBranches)
	default:
		return strconv.Itoa(n)
	}
}

func fromTable(n int, table []string) string {
	if n > 0 && n < len(table) {
		return table[n]
	}
	return strconv.Itoa(n)
}

func alpha(n int, base rune) string {
	if n < 1 || n > 26 {
		return strconv.Itoa(n)
	}
	return string(base + rune(n-1))
}

// chineseNumeral covers 0..99: 十, 十一, 二十, 二十一, ...
func chineseNumeral(n int, digits []string, ten string) string {
	switch {
	case n == 0:
		return "零"
	case n < 0 || n >= 100:
		return strconv.Itoa(n)
	case n < 10:
		return digits[n]
	case n < 20:
		return ten + digits[n%10]
	default:
		return digits[n/10] + ten + digits[n%10]
	}
}
