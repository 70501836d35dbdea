// Package localization provides functionality for internationalization (i18n).
// It loads translation strings from JSON files and renders outbound notices
// for a given language.
package localization

import (
	"anonchat/backend/internal/models"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"sync"
)

//go:embed locales/*.json
var embedded embed.FS

// FallbackLanguage is used when a key is missing in the requested language.
const FallbackLanguage = "en"

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every "<lang>.json" file found in dir of fsys.
func NewLocalizer(fsys fs.FS, dir string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[lang] = translations
	}

	return l, nil
}

// NewDefaultLocalizer loads the catalog compiled into the binary.
func NewDefaultLocalizer() (*Localizer, error) {
	return NewLocalizer(embedded, "locales")
}

// Languages returns the loaded language codes.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	langs := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		langs = append(langs, lang)
	}
	return langs
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return value
		}
	}

	// Fallback to a default language if the key is not found in the specified language
	if lang != FallbackLanguage {
		if enTranslations, ok := l.translations[FallbackLanguage]; ok {
			if value, ok := enTranslations[key]; ok {
				return value
			}
		}
	}

	return key
}

// Format is GetString with {0}, {1}, ... replaced by args.
func (l *Localizer) Format(lang, key string, args ...string) string {
	s := l.GetString(lang, key)
	if len(args) == 0 {
		return s
	}
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", a)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Render turns an outbound notice into display text: the keyed line
// followed by one line per item.
func (l *Localizer) Render(lang string, out models.Outbound) string {
	if out.Key == "" {
		return out.Text
	}
	var b strings.Builder
	b.WriteString(l.Format(lang, out.Key, out.Args...))
	for _, item := range out.Items {
		b.WriteString("\n\n")
		b.WriteString(l.Format(lang, out.ItemKey, item...))
	}
	return b.String()
}
