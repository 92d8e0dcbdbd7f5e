package llm

import (
	"context"

	"github.com/linyone/chatrag/internal/domain/entities"
)

var fallbackTexts = map[entities.Category]map[entities.Language]string{
	entities.CategoryEmergency: {
		entities.LanguageEnglish: "Stay safe: Drop, Cover, Hold On. For real emergencies, call 199.",
		entities.LanguageBurmese: "အရေးပေါ်အခြေအနေတွင် 'ခေါင်းပု၊ ဖုံး၊ ကိုင်' လုပ်ပါ။ အရေးပေါ်ဖြစ်ပါက 199 ကို ခေါ်ပါ။",
	},
	entities.CategoryMental: {
		entities.LanguageEnglish: "Let's try box breathing (4-4-4-4). You're not alone. If this is an emergency, please call 199.",
		entities.LanguageBurmese: "အေးချမ်းသက်သာစေရန် အသက်ရှူ ၄-၄-၄-၄ လေ့ကျင့်ပါ။ သင်တစ်ယောက်တည်းမဟုတ်ပါ။ အရေးပေါ်ဖြစ်ပါက 199 ကို ခေါ်ပါ။",
	},
}

// LocalFallback answers with a fixed safety message. It makes no external
// call and always succeeds.
type LocalFallback struct{}

// NewLocalFallback creates the fallback provider.
func NewLocalFallback() *LocalFallback { return &LocalFallback{} }

// Name implements ports.Provider.
func (LocalFallback) Name() string { return "local" }

// Configured implements ports.Provider.
func (LocalFallback) Configured() bool { return true }

// Attempt implements ports.Provider.
func (LocalFallback) Attempt(ctx context.Context, messages []entities.Message, params entities.GenerationParams) entities.Attempt {
	return entities.Success(FallbackText(params.Category, params.Language), "fallback")
}

// FallbackText returns the safety message for a category and language.
func FallbackText(category entities.Category, language entities.Language) string {
	byLang, ok := fallbackTexts[category]
	if !ok {
		byLang = fallbackTexts[entities.CategoryEmergency]
	}
	if language == entities.LanguageBurmese {
		return byLang[entities.LanguageBurmese]
	}
	return byLang[entities.LanguageEnglish]
}
