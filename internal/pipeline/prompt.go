package pipeline

import (
	"fmt"
	"strings"
)

// LabelCategories 是标签体系中的六个分类，模型按这些键返回数组。
var LabelCategories = []string{"colors", "materials", "shapes", "decorations", "styles", "effects"}

var categoryHints = map[string]string{
	"colors":      "主色与点缀色，例如 金色、暗红、银白",
	"materials":   "材质，例如 金属、皮革、布料、宝石",
	"shapes":      "整体轮廓与形状，例如 长剑、宽刃、弧形",
	"decorations": "装饰元素，例如 雕花、铆钉、流苏、符文",
	"styles":      "风格，例如 哥特、东方、机械、华丽",
	"effects":     "视觉效果，例如 发光、火焰、半透明",
}

const promptTemplate = `你是一名游戏装备外观标注员。下面的图片是同一件装备（类型：%s）的正面和背面。
请仔细观察外观，按以下分类给出简短的中文标签，每个标签不超过 6 个字：
%s
另外给出：
- appearance_looks_like: 这件装备看起来像什么（数组）
- appearance_description: 一到两句话的外观描述
- custom_tags: 以上分类之外仍然值得检索的标签（数组）

只输出一个 JSON 对象，不要输出其他内容，格式如下：
{"colors": [], "materials": [], "shapes": [], "decorations": [], "styles": [], "effects": [], "appearance_looks_like": [], "appearance_description": "", "custom_tags": []}`

// BuildPrompt 生成描述标签体系的提示词。
func BuildPrompt(equipmentType string) string {
	equipmentType = strings.TrimSpace(equipmentType)
	if equipmentType == "" {
		equipmentType = "未知"
	}
	var b strings.Builder
	for _, c := range LabelCategories {
		fmt.Fprintf(&b, "- %s: %s\n", c, categoryHints[c])
	}
	return fmt.Sprintf(promptTemplate, equipmentType, strings.TrimRight(b.String(), "\n"))
}
