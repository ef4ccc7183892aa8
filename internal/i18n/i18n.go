// Package i18n registers the user facing messages of the engine with
// golang.org/x/text so that they can be looked up per language.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys. The English text doubles as the key. Ids are passed as
// strings so the printer does not group their digits.
const (
	MsgNoWorkItem       = "could not determine work item; mention its id in the description."
	MsgWorkItemNotFound = "item not found or inaccessible."
	MsgUnknownError     = "non-JSON/unknown error"
	MsgMissingWorkItem  = "work item id is required."
	MsgMissingActivity  = "activity is required."
	MsgPublished        = "published as time entry #%s"
	MsgNoEntries        = "There are no items to display here. Did you log your time on Toggl?"
	MsgNoTargetEntries  = "There are no items to display here."
)

// Translator looks up a message by key.
type Translator interface {
	Sprintf(key message.Reference, a ...interface{}) string
}

func init() {
	for _, key := range []string{
		MsgNoWorkItem,
		MsgWorkItemNotFound,
		MsgUnknownError,
		MsgMissingWorkItem,
		MsgMissingActivity,
		MsgPublished,
		MsgNoEntries,
		MsgNoTargetEntries,
	} {
		_ = message.SetString(language.English, key, key)
	}

	german := map[string]string{
		MsgNoWorkItem:       "Ticket konnte nicht ermittelt werden; bitte die Ticketnummer in der Beschreibung angeben.",
		MsgWorkItemNotFound: "Ticket nicht gefunden oder nicht zugänglich.",
		MsgUnknownError:     "Unbekannter Fehler (keine JSON-Antwort)",
		MsgMissingWorkItem:  "Ticketnummer fehlt.",
		MsgMissingActivity:  "Aktivität fehlt.",
		MsgPublished:        "als Zeiteintrag #%s veröffentlicht",
	}
	for key, text := range german {
		_ = message.SetString(language.German, key, text)
	}
}

// NewPrinter returns a Translator for the given BCP 47 tag. Unknown or empty
// tags fall back to English.
func NewPrinter(tag string) *message.Printer {
	lang := language.English
	if tag != "" {
		if t, err := language.Parse(tag); err == nil {
			matcher := language.NewMatcher([]language.Tag{language.English, language.German})
			lang, _, _ = matcher.Match(t)
		}
	}
	return message.NewPrinter(lang)
}
