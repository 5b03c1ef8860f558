package services

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
	"manual-knowledge-pipeline/utils"

	"github.com/google/uuid"
)

// Chunker converts per-page raw text into bounded, overlapping, deduplicated
// chunks. Deduplication runs after overlap injection: overlap text would
// otherwise make near-identical boundary chunks look unique.
type Chunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
	log          *slog.Logger

	paragraphRe *regexp.Regexp
	urlRe       *regexp.Regexp
	romanRe     *regexp.Regexp
	modelRe     *regexp.Regexp
	manualRe    *regexp.Regexp
	codeRe      *regexp.Regexp
	numberedRe  *regexp.Regexp
}

// mergeThreshold is the paragraph length below which a paragraph is folded
// into the following one instead of risking a fragment chunk.
const mergeThreshold = 100

// NewChunker creates a chunking engine from configuration.
func NewChunker(cfg *config.Config, log *slog.Logger) *Chunker {
	return &Chunker{
		chunkSize:    cfg.ChunkSize,
		overlap:      cfg.ChunkOverlap,
		minChunkSize: cfg.MinChunkSize,
		log:          log,
		paragraphRe:  regexp.MustCompile(`\n[ \t]*\n+`),
		urlRe:        regexp.MustCompile(`(?i)(https?://|www\.)\S+`),
		romanRe:      regexp.MustCompile(`(?i)^[ivxlcdm]+\.?$`),
		modelRe:      regexp.MustCompile(`\b[A-Z]{1,4}-?\d{2,5}[A-Za-z0-9]*\b`),
		manualRe:     regexp.MustCompile(`(?i)(service manual|user guide|maintenance manual|parts catalog|operating instructions|troubleshooting guide)`),
		codeRe:       regexp.MustCompile(`\b\d{2}\.\d{2}(\.\d{2})?\b`),
		numberedRe:   regexp.MustCompile(`(?m)^[ \t]*\d{1,2}[.)][ \t]+`),
	}
}

// ChunkPages chunks every page and then deduplicates globally by
// fingerprint, first occurrence winning. Final chunk indexes are assigned
// only to survivors.
func (c *Chunker) ChunkPages(pages map[int]string) []models.TextChunk {
	pageNumbers := make([]int, 0, len(pages))
	for page := range pages {
		pageNumbers = append(pageNumbers, page)
	}
	sort.Ints(pageNumbers)

	var raw []models.TextChunk
	for _, page := range pageNumbers {
		raw = append(raw, c.chunkPage(pages[page], page)...)
	}

	seen := make(map[string]bool, len(raw))
	deduped := make([]models.TextChunk, 0, len(raw))
	for _, chunk := range raw {
		if seen[chunk.Fingerprint] {
			continue
		}
		seen[chunk.Fingerprint] = true
		chunk.ChunkIndex = len(deduped)
		deduped = append(deduped, chunk)
	}

	if dropped := len(raw) - len(deduped); dropped > 0 {
		c.log.Debug("dropped duplicate chunks", "dropped", dropped, "kept", len(deduped))
	}
	return deduped
}

// chunkPage splits one page into paragraphs and greedily packs them into
// chunks, seeding each new chunk with the overlap tail of the previous one.
func (c *Chunker) chunkPage(text string, page int) []models.TextChunk {
	paragraphs := c.splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	hardLimit := 2 * c.chunkSize
	var chunks []models.TextChunk
	var buf strings.Builder

	emit := func() {
		if chunk, ok := c.buildChunk(buf.String(), page); ok {
			chunks = append(chunks, chunk)
		}
	}

	// Every iteration appends its paragraph, so the buffer never holds a bare
	// overlap tail when emit runs.
	for _, para := range paragraphs {
		if buf.Len() > 0 && buf.Len()+len(para)+2 > c.chunkSize {
			emit()
			tail := c.overlapTail(buf.String())
			buf.Reset()
			// Skip the overlap seed when it would blow the hard bound.
			if tail != "" && len(tail)+len(para)+2 <= hardLimit {
				buf.WriteString(tail)
			}
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}

	if buf.Len() > 0 {
		emit()
	}
	return chunks
}

// splitParagraphs splits on blank lines, force-splits oversized paragraphs
// on single newlines, and merges short paragraphs into the following one.
func (c *Chunker) splitParagraphs(text string) []string {
	hardLimit := 2 * c.chunkSize

	var paragraphs []string
	for _, para := range c.paragraphRe.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= hardLimit {
			paragraphs = append(paragraphs, para)
			continue
		}
		paragraphs = append(paragraphs, c.forceSplit(para, hardLimit)...)
	}

	// Merge fragments forward so a bare heading rides with its body. Merging
	// can push a paragraph past the hard limit again, so the bound is
	// re-enforced on the merged result.
	merged := make([]string, 0, len(paragraphs))
	carry := ""
	for _, para := range paragraphs {
		if carry != "" {
			para = carry + "\n" + para
			carry = ""
		}
		if len(para) < mergeThreshold {
			carry = para
			continue
		}
		if len(para) > hardLimit {
			merged = append(merged, c.forceSplit(para, hardLimit)...)
			continue
		}
		merged = append(merged, para)
	}
	if carry != "" {
		merged = append(merged, carry)
	}
	return merged
}

// forceSplit bounds a paragraph at limit by regrouping its lines; a single
// line longer than the limit is sliced outright.
func (c *Chunker) forceSplit(para string, limit int) []string {
	var pieces []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			pieces = append(pieces, buf.String())
			buf.Reset()
		}
	}

	for _, line := range strings.Split(para, "\n") {
		for len(line) > limit {
			flush()
			pieces = append(pieces, line[:limit])
			line = line[limit:]
		}
		if buf.Len() > 0 && buf.Len()+len(line)+1 > limit {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
	}
	flush()
	return pieces
}

// overlapTail returns the last overlap characters of a chunk, trimmed to
// start at a sentence boundary when one exists within the tail.
func (c *Chunker) overlapTail(text string) string {
	if c.overlap <= 0 {
		return ""
	}
	if len(text) <= c.overlap {
		return text
	}

	tail := text[len(text)-c.overlap:]
	if idx := strings.Index(tail, ". "); idx >= 0 && idx+2 < len(tail) {
		tail = tail[idx+2:]
	}
	return strings.TrimSpace(tail)
}

// buildChunk strips repeated page headers, rejects undersized chunks, and
// fills fingerprint, classification and counts.
func (c *Chunker) buildChunk(text string, page int) (models.TextChunk, bool) {
	stripped, meta := c.stripHeaders(text)
	if len(strings.TrimSpace(stripped)) < c.minChunkSize {
		return models.TextChunk{}, false
	}

	words := strings.Fields(stripped)
	return models.TextChunk{
		ChunkID:     uuid.NewString(),
		Text:        stripped,
		PageStart:   page,
		PageEnd:     page,
		ChunkType:   c.classify(stripped),
		Fingerprint: utils.Fingerprint(stripped),
		CharCount:   len(stripped),
		WordCount:   len(words),
		Metadata:    meta,
	}, true
}

// stripHeaders scans the first lines of a chunk for repeated page-header
// noise and moves matched lines into structured metadata instead of
// discarding them.
func (c *Chunker) stripHeaders(text string) (string, models.ChunkMetadata) {
	lines := strings.Split(text, "\n")
	var meta models.ChunkMetadata

	scan := len(lines)
	if scan > 5 {
		scan = 5
	}

	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if i < scan && c.isHeaderLine(line) {
			trimmed := strings.TrimSpace(line)
			meta.HeaderLines = append(meta.HeaderLines, trimmed)
			for _, token := range c.modelRe.FindAllString(trimmed, -1) {
				meta.HeaderModels = append(meta.HeaderModels, token)
			}
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n")), meta
}

func (c *Chunker) isHeaderLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if c.urlRe.MatchString(trimmed) {
		return true
	}
	if c.romanRe.MatchString(trimmed) {
		return true
	}
	if c.manualRe.MatchString(trimmed) {
		return true
	}
	return c.isShortTitleLine(trimmed)
}

// isShortTitleLine matches short title-case lines like running heads, e.g.
// "LaserJet Enterprise M607 Series". Sentences keep their punctuation and
// lowercase words, which excludes them.
func (c *Chunker) isShortTitleLine(line string) bool {
	if len(line) > 60 || strings.HasSuffix(line, ".") {
		return false
	}
	words := strings.Fields(line)
	if len(words) < 2 || len(words) > 8 {
		return false
	}
	for _, word := range words {
		r := rune(word[0])
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}

var (
	errorVocab = []string{"error", "fault", "code"}

	troubleshootingVocab = []string{
		"troubleshoot", "diagnos", "symptom", "possible cause", "remedy",
		"corrective action", "if the problem persists",
	}

	specificationVocab = []string{
		"specification", "dimensions", "voltage", "wattage", "capacity",
		"operating temperature", "humidity", "power consumption",
	}
)

// classify assigns a chunk type by simple precedence rules.
func (c *Chunker) classify(text string) string {
	lower := strings.ToLower(text)

	if c.codeRe.MatchString(text) && containsAny(lower, errorVocab) {
		return models.ChunkTypeErrorCode
	}
	if containsAny(lower, troubleshootingVocab) {
		return models.ChunkTypeTroubleshooting
	}
	if len(c.numberedRe.FindAllString(text, -1)) >= 2 {
		return models.ChunkTypeProcedure
	}
	if containsAny(lower, specificationVocab) {
		return models.ChunkTypeSpecification
	}
	return models.ChunkTypeGeneral
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
