package ai

import (
	"fmt"
	"strings"
)

// TokenFacts is everything a brief is allowed to mention.
type TokenFacts struct {
	Address string
	Name    string
	Symbol  string
	Price   string
}

const briefSystemPrompt = `你是一名严谨的加密资产信息助理。
根据用户提供的代币事实撰写一段简短的英文说明，适合直接粘贴到邮件正文中。
要求：
- 只使用给定事实，不得编造数据、承诺收益或给出投资建议；
- 不超过 120 个英文单词，纯文本，不使用 Markdown；
- 结尾原样附上代币地址。`

const briefUserPrompt = `Token name: {name}
Symbol: {symbol}
Price (USD): {price}
Address: {address}`

// TemplateBrief renders the fixed plain-text brief used when no model is available.
func TemplateBrief(f TokenFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Coin: %s\n", f.Name)
	fmt.Fprintf(&b, "Symbol: %s\n", f.Symbol)
	fmt.Fprintf(&b, "Price: $%s\n", f.Price)
	fmt.Fprintf(&b, "Address: %s", f.Address)
	return b.String()
}

func (f TokenFacts) promptInput() map[string]any {
	return map[string]any{
		"name":    f.Name,
		"symbol":  f.Symbol,
		"price":   f.Price,
		"address": f.Address,
	}
}
