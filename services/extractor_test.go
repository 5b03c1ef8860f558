package services

import (
	"log/slog"
	"strings"
	"testing"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extractionConfig() *config.Config {
	return &config.Config{
		MinConfidence:        0.6,
		ContextWindow:        500,
		MinDescriptionLength: 20,
	}
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

func TestScoreWeightsClampAndAccumulate(t *testing.T) {
	w := DefaultScoreWeights()

	assert.Equal(t, w.Base, w.Score(signals{}))

	full := signals{
		DescriptionOK:  true,
		HasSolution:    true,
		VocabularyHits: 3,
		Occurrences:    4,
		ContextInBand:  true,
	}
	assert.LessOrEqual(t, w.Score(full), 1.0)
	assert.Greater(t, w.Score(full), w.Score(signals{}))

	// weights that sum past 1 still clamp
	hot := ScoreWeights{Base: 0.9, Solution: 0.5}
	assert.Equal(t, 1.0, hot.Score(signals{HasSolution: true}))
}

func TestSolutionSignalNeverLowersConfidence(t *testing.T) {
	w := DefaultScoreWeights()

	base := signals{DescriptionOK: true, VocabularyHits: 2, ContextInBand: true}
	withSolution := base
	withSolution.HasSolution = true

	assert.GreaterOrEqual(t, w.Score(withSolution), w.Score(base))
}

func TestErrorCodeExtractorWorkedExample(t *testing.T) {
	e := NewErrorCodeExtractor(extractionConfig(), testLogger(t))

	pages := map[int]string{
		7: "Error 41.03.15 occurs when the fuser lamp fails. Solution: 1. Power cycle. 2. Replace lamp.",
	}

	entities, rejected := e.Extract(pages)
	require.Len(t, entities, 1)
	assert.Zero(t, rejected)

	code, ok := entities[0].(*models.ErrorCode)
	require.True(t, ok)
	assert.Equal(t, "41.03.15", code.Code)
	assert.Equal(t, "occurs when the fuser lamp fails", code.Description)
	assert.NotEmpty(t, code.Solution)
	assert.GreaterOrEqual(t, code.Confidence, 0.6)
	assert.Equal(t, 7, code.SourcePage)
	assert.Equal(t, models.EntityErrorCode, code.Kind())
}

func TestErrorCodeExtractorRejectsShortDescription(t *testing.T) {
	e := NewErrorCodeExtractor(extractionConfig(), testLogger(t))

	entities, rejected := e.Extract(map[int]string{1: "Code 13.20 jam.\n\nUnrelated text follows here."})
	assert.Empty(t, entities)
	assert.Equal(t, 1, rejected)
}

func TestErrorCodeExtractorRejectsGenericDescription(t *testing.T) {
	e := NewErrorCodeExtractor(extractionConfig(), testLogger(t))

	entities, rejected := e.Extract(map[int]string{
		1: "Error 55.00 see documentation for more details on this.",
	})
	assert.Empty(t, entities)
	assert.Equal(t, 1, rejected)
}

func TestErrorCodeExtractorIgnoresInnerPairsOfLongerRuns(t *testing.T) {
	e := NewErrorCodeExtractor(extractionConfig(), testLogger(t))

	text := "Error 41.03.15 occurs when the fuser lamp fails to warm up in time. " +
		"Solution: replace the fuser lamp assembly."
	entities, _ := e.Extract(map[int]string{1: text})

	require.Len(t, entities, 1)
	code := entities[0].(*models.ErrorCode)
	assert.Equal(t, "41.03.15", code.Code, "the inner 41.03 and 03.15 pairs must not surface")
}

func TestErrorCodeExtractorDeduplicatesKeepingHighestConfidence(t *testing.T) {
	e := NewErrorCodeExtractor(extractionConfig(), testLogger(t))

	pages := map[int]string{
		1: "Error 13.20 indicates a paper jam behind the rear door panel area.",
		2: "Error 13.20 indicates a paper jam behind the rear door. Solution: 1. Open door. 2. Clear jam.",
	}

	entities, _ := e.Extract(pages)
	require.Len(t, entities, 1)

	code := entities[0].(*models.ErrorCode)
	assert.NotEmpty(t, code.Solution, "the richer instance must win")
}

func TestDeriveSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, deriveSeverity("a critical fuser failure"))
	assert.Equal(t, models.SeverityWarning, deriveSeverity("Caution: hot surface"))
	assert.Equal(t, models.SeverityError, deriveSeverity("paper jam in tray 2"))
}

func TestProductExtractorResolvesManufacturerAndSeries(t *testing.T) {
	e := NewProductExtractor(extractionConfig(), testLogger(t))

	text := "The HP LaserJet M607 series printer uses the same engine as the M607 base model. " +
		"This manual covers the M607 and its duplex variants as manufactured since 2019."
	entities, _ := e.Extract(map[int]string{1: text})

	require.NotEmpty(t, entities)
	product := entities[0].(*models.Product)
	assert.Equal(t, "HP", product.Manufacturer)
	assert.Equal(t, "M607", product.ModelNumber)
	assert.NotEmpty(t, product.Series)
}

func TestValidateProduct(t *testing.T) {
	assert.True(t, validateProduct("M607"))
	assert.True(t, validateProduct("WF-7720"))

	assert.False(t, validateProduct("M60"), "too short")
	assert.False(t, validateProduct("1234"), "digits only")
	assert.False(t, validateProduct("ISO9001"), "standards reference")
	assert.False(t, validateProduct("M607.pdf"), "filename")
}

func TestProductExtractorRejectsUnsupportedToken(t *testing.T) {
	e := NewProductExtractor(extractionConfig(), testLogger(t))

	// A lone model-shaped token with no supporting context stays below the
	// confidence floor.
	entities, rejected := e.Extract(map[int]string{1: "See also X999 for details."})
	assert.Empty(t, entities)
	assert.Equal(t, 1, rejected)
}

func TestProductExtractorRejectsMissingDescription(t *testing.T) {
	e := NewProductExtractor(extractionConfig(), testLogger(t))

	// Vocabulary density and recurrence alone would clear the confidence
	// floor, but a candidate without a usable description never persists.
	entities, rejected := e.Extract(map[int]string{1: "printer model M607 engine M607\nM607"})
	assert.Empty(t, entities)
	assert.NotZero(t, rejected)
}

func TestVersionExtractorRejectsMissingDescription(t *testing.T) {
	e := NewVersionExtractor(extractionConfig(), testLogger(t))

	text := "Firmware version 4.21.7 now.\n\nDownload the update and flash it."
	entities, rejected := e.Extract(map[int]string{1: text})
	assert.Empty(t, entities)
	assert.Equal(t, 1, rejected)
}

func TestVersionExtractorFindsKeywordTriggeredVersions(t *testing.T) {
	e := NewVersionExtractor(extractionConfig(), testLogger(t))

	text := "Firmware version 4.21.7 must be installed before the update. " +
		"Download the release from the support site and flash the formatter."
	entities, _ := e.Extract(map[int]string{3: text})

	require.Len(t, entities, 1)
	version := entities[0].(*models.Version)
	assert.Equal(t, "4.21.7", version.Value)
	assert.Equal(t, "firmware", version.Component)
	assert.Equal(t, 3, version.SourcePage)
	assert.NotEmpty(t, version.Context)
}

func TestVersionExtractorIgnoresBareDottedNumbers(t *testing.T) {
	e := NewVersionExtractor(extractionConfig(), testLogger(t))

	entities, _ := e.Extract(map[int]string{1: "Error 41.03.15 occurs when the fuser lamp fails."})
	assert.Empty(t, entities, "dotted numbers without a version keyword are not versions")
}

func TestSnippetIsRuneSafe(t *testing.T) {
	text := strings.Repeat("ü", 150)
	cut := snippet(text, 101)

	assert.LessOrEqual(t, len(cut), 101)
	for _, r := range cut {
		assert.Equal(t, 'ü', r)
	}
}
