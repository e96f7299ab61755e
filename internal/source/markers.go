package source

import "github.com/ABeGood/reservation-pl/internal/claim"

// Response markers of the booking site.
var (
	DefaultSuccessMarkers = []string{"Kod zgłoszenia"}

	DefaultRejectionMarkers = []string{
		"kod z obrazka przepisany przez ciebie jest nieprawidłowy",
		"Błąd rezerwacji",
	}
)

// DefaultCodePattern captures the registration code printed after
// "Kod zgłoszenia", e.g. "Kod zgłoszenia-<t class='text'>&nbspab12cd</t>".
const DefaultCodePattern = `Kod zgłoszenia\s*-?\s*<t[^>]*>(?:&nbsp;?|\s)*([A-Za-z0-9]+)`

// NewClassifier returns the response classifier for the booking site. Nil
// marker lists fall back to the defaults.
func NewClassifier(success, rejection []string) (claim.Classifier, error) {
	if success == nil {
		success = DefaultSuccessMarkers
	}
	if rejection == nil {
		rejection = DefaultRejectionMarkers
	}
	return claim.PhraseClassifier(success, rejection, DefaultCodePattern)
}
