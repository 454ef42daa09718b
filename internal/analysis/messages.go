package analysis

import (
	"errors"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgRateLimited  = "Too many requests right now. Please wait a moment and try again."
	msgOverloaded   = "The analysis service is busy. Please try again in a few minutes."
	msgAccessDenied = "The analysis service is not available for this app right now."
	msgNotFound     = "No analysis model is currently available."
	msgMalformed    = "We couldn't read the analysis result. Please try again."
	msgUnknown      = "Something went wrong while analyzing your meal. Please try again."
	msgNoSpeech     = "We couldn't hear anything in the recording. Please try again."
	msgEmptyInput   = "Nothing to analyze. Please add a photo, a description or a correction."
)

// SupportedLanguages lists the languages user messages are translated into.
var SupportedLanguages = []language.Tag{language.English, language.Spanish, language.German}

var (
	messages = buildCatalog()
	matcher  = language.NewMatcher(SupportedLanguages)
)

func buildCatalog() catalog.Catalog {
	translations := map[language.Tag]map[string]string{
		language.English: {
			msgRateLimited:  msgRateLimited,
			msgOverloaded:   msgOverloaded,
			msgAccessDenied: msgAccessDenied,
			msgNotFound:     msgNotFound,
			msgMalformed:    msgMalformed,
			msgUnknown:      msgUnknown,
			msgNoSpeech:     msgNoSpeech,
			msgEmptyInput:   msgEmptyInput,
		},
		language.Spanish: {
			msgRateLimited:  "Hay demasiadas solicitudes en este momento. Espera un momento y vuelve a intentarlo.",
			msgOverloaded:   "El servicio de análisis está ocupado. Vuelve a intentarlo en unos minutos.",
			msgAccessDenied: "El servicio de análisis no está disponible para esta aplicación en este momento.",
			msgNotFound:     "No hay ningún modelo de análisis disponible en este momento.",
			msgMalformed:    "No pudimos leer el resultado del análisis. Vuelve a intentarlo.",
			msgUnknown:      "Algo salió mal al analizar tu comida. Vuelve a intentarlo.",
			msgNoSpeech:     "No pudimos oír nada en la grabación. Vuelve a intentarlo.",
			msgEmptyInput:   "No hay nada que analizar. Añade una foto, una descripción o una corrección.",
		},
		language.German: {
			msgRateLimited:  "Gerade gibt es zu viele Anfragen. Bitte warte einen Moment und versuche es erneut.",
			msgOverloaded:   "Der Analysedienst ist ausgelastet. Bitte versuche es in ein paar Minuten erneut.",
			msgAccessDenied: "Der Analysedienst ist für diese App derzeit nicht verfügbar.",
			msgNotFound:     "Derzeit ist kein Analysemodell verfügbar.",
			msgMalformed:    "Das Analyseergebnis konnte nicht gelesen werden. Bitte versuche es erneut.",
			msgUnknown:      "Bei der Analyse deiner Mahlzeit ist etwas schiefgelaufen. Bitte versuche es erneut.",
			msgNoSpeech:     "In der Aufnahme war nichts zu hören. Bitte versuche es erneut.",
			msgEmptyInput:   "Nichts zu analysieren. Bitte füge ein Foto, eine Beschreibung oder eine Korrektur hinzu.",
		},
	}

	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for key, msg := range entries {
			// keys are plain strings without format verbs, SetString cannot fail
			_ = b.SetString(tag, key, msg)
		}
	}
	return b
}

// MatchLanguage picks the best supported language for an Accept-Language style value.
func MatchLanguage(accept string) language.Tag {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return SupportedLanguages[idx]
}

// Describe turns an orchestrator error into the descriptor shown to the user.
// The localized message is always non-technical; the raw error is kept as detail.
func Describe(err error, tag language.Tag) *models.ErrorDescriptor {
	if err == nil {
		return nil
	}

	kind := Classify(err)
	key := messageKey(kind)
	switch {
	case errors.Is(err, ErrNoSpeech):
		key = msgNoSpeech
	case errors.Is(err, ErrEmptyInput):
		key = msgEmptyInput
	}

	p := message.NewPrinter(tag, message.Catalog(messages))
	return &models.ErrorDescriptor{
		Kind:            kind,
		UserMessage:     p.Sprintf(key),
		TechnicalDetail: err.Error(),
	}
}

func messageKey(kind models.ErrorKind) string {
	switch kind {
	case models.KindRateLimited:
		return msgRateLimited
	case models.KindOverloaded:
		return msgOverloaded
	case models.KindAccessDenied:
		return msgAccessDenied
	case models.KindNotFound:
		return msgNotFound
	case models.KindMalformedOutput:
		return msgMalformed
	default:
		return msgUnknown
	}
}
