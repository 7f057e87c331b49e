package protocol

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"
)

// ClampPosition 逐轴裁剪到世界边界内；全函数，不会失败。
// NaN 会落到下界，保证存储与广播的坐标永远有限。
func ClampPosition(p Position) Position {
	return Position{
		X: clamp(p.X, -XZRadius, XZRadius),
		Y: clamp(p.Y, YMin, YMax),
		Z: clamp(p.Z, -XZRadius, XZRadius),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Distance 欧氏距离，仅用于速度检查
func Distance(a, b Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// SanitizeDisplayName 清洗昵称：剔除非法字符，折叠空白，去首尾空白，截断到最大长度。
// 结果短于最小长度时返回 fallback。长度按字符（rune）计。
// 先剔除再折叠、截断后再去尾部空白，顺序是有意的：保证结果不含首尾空白和连续空白，移植时不要改回。
func SanitizeDisplayName(candidate, fallback string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || isSpace(r) {
			return r
		}
		switch r {
		case '\'', '_', '-':
			return r
		}
		return -1
	}, candidate)

	name := truncate(collapseSpaces(cleaned), NameMaxLength)
	// 截断可能在末尾留下空格
	name = strings.TrimRightFunc(name, isSpace)
	if len([]rune(name)) < NameMinLength {
		return fallback
	}
	return name
}

// SanitizeChatText 折叠空白、去首尾空白并截断；结果为空时 ok 为 false
func SanitizeChatText(candidate string) (text string, ok bool) {
	collapsed := collapseSpaces(candidate)
	if collapsed == "" {
		return "", false
	}
	return truncate(collapsed, MessageMaxLength), true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

// isSpace 与浏览器端正则 \s 的空白集合一致：
// U+0085 不算空白，U+FEFF 算空白，其余同 unicode.IsSpace
func isSpace(r rune) bool {
	switch r {
	case '\u0085':
		return false
	case '\ufeff':
		return true
	}
	return unicode.IsSpace(r)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// IsPositionPayload 对不可信输入做结构校验：x/y/z 必须都存在且为有限数字
func IsPositionPayload(v any) bool {
	switch p := v.(type) {
	case map[string]any:
		for _, key := range []string{"x", "y", "z"} {
			n, ok := p[key].(float64)
			if !ok || !finite(n) {
				return false
			}
		}
		return true
	case Position:
		return finite(p.X) && finite(p.Y) && finite(p.Z)
	case *Position:
		return p != nil && finite(p.X) && finite(p.Y) && finite(p.Z)
	default:
		return false
	}
}

// IsChatPayload 要求 text 字段存在且为字符串
func IsChatPayload(v any) bool {
	switch p := v.(type) {
	case map[string]any:
		_, ok := p["text"].(string)
		return ok
	case ChatPayload:
		return true
	case *ChatPayload:
		return p != nil
	default:
		return false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// DecodePosition 解析并校验原始 pos 载荷
func DecodePosition(raw json.RawMessage) (Position, bool) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil || !IsPositionPayload(generic) {
		return Position{}, false
	}
	m := generic.(map[string]any)
	return Position{X: m["x"].(float64), Y: m["y"].(float64), Z: m["z"].(float64)}, true
}

// DecodeChat 解析并校验原始 chat 载荷（不做清洗）
func DecodeChat(raw json.RawMessage) (ChatPayload, bool) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil || !IsChatPayload(generic) {
		return ChatPayload{}, false
	}
	return ChatPayload{Text: generic.(map[string]any)["text"].(string)}, true
}
