package services

import (
	"log/slog"
	"regexp"
	"strings"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
)

var productPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{1,4}-?\d{3,5}[A-Za-z0-9]{0,4})\b`),
	regexp.MustCompile(`\b([A-Z][a-zA-Z]+[ -]\d{3,4}[A-Za-z]{0,3})\b`),
}

// Standards bodies and file-ish tokens that match the model-number shape but
// are never products.
var productRejectPrefixes = []string{"ISO", "IEC", "RFC", "EN", "UL", "DIN", "ANSI", "IEEE"}

var filenameRe = regexp.MustCompile(`(?i)\.(pdf|jpe?g|png|gif|docx?|xlsx?|zip|bin|exe)$`)

var productVocabulary = []string{
	"printer", "model", "series", "manufactured", "engine", "laserjet",
	"officejet", "imageclass", "workforce", "ecosys", "compatible",
}

// knownManufacturers maps lowercase manufacturer names found in context to
// their canonical form.
var knownManufacturers = map[string]string{
	"hp":              "HP",
	"hewlett-packard": "HP",
	"canon":           "Canon",
	"epson":           "Epson",
	"brother":         "Brother",
	"lexmark":         "Lexmark",
	"xerox":           "Xerox",
	"ricoh":           "Ricoh",
	"kyocera":         "Kyocera",
	"samsung":         "Samsung",
	"dell":            "Dell",
	"oki":             "OKI",
	"sharp":           "Sharp",
	"konica minolta":  "Konica Minolta",
	"toshiba":         "Toshiba",
	"panasonic":       "Panasonic",
}

// ProductExtractor mines model-number identifiers, resolving the
// manufacturer and series from surrounding text when possible.
type ProductExtractor struct {
	*patternExtractor
	log *slog.Logger
}

func NewProductExtractor(cfg *config.Config, log *slog.Logger) *ProductExtractor {
	return &ProductExtractor{
		patternExtractor: newPatternExtractor(cfg, productPatterns, validateProduct, productVocabulary),
		log:              log,
	}
}

// validateProduct enforces the model-number shape: letters plus digits,
// sane length, not a standards reference or a filename.
func validateProduct(value string) bool {
	if len(value) < 4 || len(value) > 15 {
		return false
	}
	hasLetter, hasDigit := false, false
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return false
	}
	if filenameRe.MatchString(value) {
		return false
	}
	upper := strings.ToUpper(value)
	for _, prefix := range productRejectPrefixes {
		if strings.HasPrefix(upper, prefix) && len(upper) > len(prefix) && upper[len(prefix)] >= '0' && upper[len(prefix)] <= '9' {
			return false
		}
	}
	return true
}

// Extract returns the accepted product identifiers and the rejected count.
// Duplicates collapse case-insensitively, keeping the highest confidence.
func (e *ProductExtractor) Extract(pages map[int]string) ([]models.Entity, int) {
	best := make(map[string]*models.Product)
	rejected := 0

	for page, text := range pages {
		for _, c := range e.findCandidates(page, text) {
			sig, desc, _ := e.signalsFor(c)
			context := e.context(c)

			if !sig.DescriptionOK {
				rejected++
				continue
			}
			confidence := e.weights.Score(sig)
			if confidence < e.minConfidence {
				rejected++
				continue
			}

			product := &models.Product{
				Manufacturer: resolveManufacturer(context),
				ModelNumber:  c.value,
				Series:       resolveSeries(context),
				Description:  desc,
				Confidence:   confidence,
				SourcePage:   c.page,
				Method:       "regex",
			}

			key := strings.ToUpper(c.value)
			if prev, ok := best[key]; !ok || confidence > prev.Confidence {
				best[key] = product
			}
		}
	}

	entities := make([]models.Entity, 0, len(best))
	for _, product := range best {
		entities = append(entities, product)
	}
	e.log.Debug("product extraction finished", "accepted", len(entities), "rejected", rejected)
	return entities, rejected
}

func resolveManufacturer(context string) string {
	lower := strings.ToLower(context)
	for name, canonical := range knownManufacturers {
		if strings.Contains(lower, name) {
			return canonical
		}
	}
	return ""
}

var seriesRe = regexp.MustCompile(`(?i)\b([A-Za-z0-9-]{2,24}(?: [A-Za-z0-9-]{2,24}){0,2}?)\s+series\b`)

func resolveSeries(context string) string {
	groups := seriesRe.FindStringSubmatch(context)
	if groups == nil {
		return ""
	}
	return strings.TrimSpace(groups[1])
}
