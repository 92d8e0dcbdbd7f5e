package usecases

import (
	"unicode/utf8"

	"github.com/linyone/chatrag/internal/domain/entities"
)

// Prompt labels and caps.
const (
	ContextLabel  = "[Curated context] "
	FileLabel     = "[User-attached content extracted] "
	MaxPromptFile = 2000
)

var systemPrompts = map[entities.Category]map[entities.Language]string{
	entities.CategoryEmergency: {
		entities.LanguageEnglish: "You are an AI assistant helping with earthquake & emergency safety. Be concise, practical, and safety-first. If this is a real emergency, remind the user to call 199.",
		entities.LanguageBurmese: "သင်သည် ငလျင်နှင့် အရေးပေါ် လုံခြုံရေးအကြံပြုမှုအတွက် ကူညီပေးသော AI ဖြစ်သည်။ တိုတောင်းသော်လည်း အသုံးဝင်အောင်ဖြေပါ။ တကယ်အရေးပေါ်ဖြစ်ပါက 199 ကို ခေါ်ရန် အမြဲသတိပေးပါ။",
	},
	entities.CategoryMental: {
		entities.LanguageEnglish: "You are a warm, supportive mental-health companion (not a clinician). Respond with empathy and calming language. Offer grounding such as box breathing (4-4-4-4). If the user indicates crisis or self-harm risk, suggest contacting a trusted person or calling 199.",
		entities.LanguageBurmese: "သင်သည် နူးညံ့သိမ်မွေ့သော စိတ်ကျန်းမာရေး အကူအညီပေးသူ (ဆေးဘက်ဝင်မဟုတ်) ဖြစ်သည်။ နူးညံ့သိမ်မွေ့သောစကားဖြင့် အားပေးပါ။ အကွက်အသက်ရှူ ၄-၄-၄-၄ ကဲ့သို့သော ဂရောင်ဒင်းကို ပြောပြပါ။ အရေးကြီးစိုးရိမ်မှု/ကိုယ်ပိုင်အန္တရာယ်ရှိပါက ယုံကြည်ရသောသူ သို့မဟုတ် 199 ကို ဆက်သွယ်ရန် အကြံပြုပါ။",
	},
}

// SystemPrompt returns the instruction for a category and language.
// Unknown languages use English and unknown categories use emergency.
func SystemPrompt(category entities.Category, language entities.Language) string {
	byLang, ok := systemPrompts[category]
	if !ok {
		byLang = systemPrompts[entities.CategoryEmergency]
	}
	if language == entities.LanguageBurmese {
		return byLang[entities.LanguageBurmese]
	}
	return byLang[entities.LanguageEnglish]
}

// BuildMessages assembles the prompt in fixed order: instruction, curated
// context (mental only), attached file text, user message.
func BuildMessages(category entities.Category, language entities.Language, userText, contextText, fileText string) []entities.Message {
	msgs := []entities.Message{{Role: entities.RoleSystem, Content: SystemPrompt(category, language)}}
	if category == entities.CategoryMental && contextText != "" {
		msgs = append(msgs, entities.Message{Role: entities.RoleSystem, Content: ContextLabel + contextText})
	}
	if fileText != "" {
		msgs = append(msgs, entities.Message{Role: entities.RoleSystem, Content: FileLabel + truncateRunes(fileText, MaxPromptFile)})
	}
	return append(msgs, entities.Message{Role: entities.RoleUser, Content: userText})
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
