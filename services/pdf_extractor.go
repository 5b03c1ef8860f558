package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/config"

	"github.com/google/generative-ai-go/genai"
	"github.com/ledongthuc/pdf"
	"google.golang.org/api/option"
)

// PDFExtractor turns a manual PDF into per-page text. It tries extraction
// methods in order of fidelity and falls back when the result quality is
// poor: Gemini first, then pdftotext, then the pure-Go reader.
type PDFExtractor struct {
	cfg          *config.Config
	log          *slog.Logger
	geminiClient *genai.Client
}

func NewPDFExtractor(cfg *config.Config, log *slog.Logger) *PDFExtractor {
	return &PDFExtractor{cfg: cfg, log: log}
}

// ExtractionResult is the page map plus everything we learned about the
// document while extracting it.
type ExtractionResult struct {
	Pages          map[int]string
	PageCount      int
	Title          string
	Method         string
	QualityScore   float64
	WordCount      int
	CharacterCount int
	ProcessingTime time.Duration
}

var pageMarkerRe = regexp.MustCompile(`(?m)^--- PAGE (\d+) ---$`)

// ExtractPages extracts the document text, retrying lower-fidelity methods
// until one clears the quality bar.
func (e *PDFExtractor) ExtractPages(ctx context.Context, filePath string) (*ExtractionResult, error) {
	start := time.Now()

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > e.cfg.MaxFileSize {
		return nil, fmt.Errorf("pdf too large for in-memory extraction: %d bytes", stat.Size())
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	methods := []struct {
		name    string
		extract func(context.Context, []byte) (*ExtractionResult, error)
	}{
		{"gemini", e.extractWithGemini},
		{"pdftotext", e.extractWithPdftotext},
		{"go-pdf", e.extractWithGoPDF},
	}

	var lastErr error
	var best *ExtractionResult

	for _, method := range methods {
		result, err := method.extract(ctx, content)
		if err != nil {
			e.log.Debug("extraction method failed", "method", method.name, "error", err)
			lastErr = err
			continue
		}

		result.Method = method.name
		result.QualityScore = evaluateTextQuality(joinPages(result.Pages))
		e.finish(result, start)

		e.log.Info("extraction attempt",
			"method", method.name,
			"pages", result.PageCount,
			"chars", result.CharacterCount,
			"quality", result.QualityScore)

		if result.QualityScore >= 0.7 {
			return result, nil
		}
		if best == nil || result.QualityScore > best.QualityScore {
			best = result
		}
	}

	if best != nil && best.QualityScore >= 0.3 {
		e.log.Warn("using degraded extraction result", "method", best.Method, "quality", best.QualityScore)
		return best, nil
	}
	return nil, fmt.Errorf("all extraction methods failed: %w", lastErr)
}

// Close releases the lazily created Gemini client.
func (e *PDFExtractor) Close() error {
	if e.geminiClient != nil {
		return e.geminiClient.Close()
	}
	return nil
}

func (e *PDFExtractor) extractWithGemini(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if e.cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}

	if e.geminiClient == nil {
		client, err := genai.NewClient(ctx, option.WithAPIKey(e.cfg.GeminiAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		e.geminiClient = client
	}

	file, err := e.geminiClient.UploadFile(ctx, "", bytes.NewReader(content), &genai.UploadFileOptions{
		MIMEType: "application/pdf",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to gemini: %w", err)
	}
	defer e.geminiClient.DeleteFile(ctx, file.Name)

	model := e.geminiClient.GenerativeModel(e.cfg.ExtractionModel)
	model.SetTemperature(0.1)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(`You are a precise document text extractor. Extract ALL text content from this PDF exactly as it appears, maintaining original formatting, line breaks, and structure. Begin every page with a marker line of the form "--- PAGE N ---" where N is the page number. Do not summarize, interpret, or modify the content.`)},
	}

	resp, err := model.GenerateContent(ctx,
		genai.FileData{URI: file.URI},
		genai.Text("Extract all text content from this PDF document, page by page."),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini text extraction failed: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no text extracted by gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}

	pages := splitOnPageMarkers(sb.String())
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted by gemini")
	}
	return &ExtractionResult{Pages: pages, PageCount: len(pages)}, nil
}

// extractWithPdftotext shells out to poppler-utils; pdftotext separates
// pages with form feeds.
func (e *PDFExtractor) extractWithPdftotext(ctx context.Context, content []byte) (*ExtractionResult, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, fmt.Errorf("pdftotext not available")
	}

	extractCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdftotext", "-layout", "-", "-")
	cmd.Stdin = bytes.NewReader(content)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	pages := make(map[int]string)
	for i, pageText := range strings.Split(stdout.String(), "\f") {
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages[i+1] = pageText
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted by pdftotext")
	}
	return &ExtractionResult{Pages: pages, PageCount: len(pages)}, nil
}

func (e *PDFExtractor) extractWithGoPDF(ctx context.Context, content []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	pages := make(map[int]string)
	total := reader.NumPage()

	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			e.log.Debug("page extraction failed", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages[i] = text
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted by go-pdf")
	}
	return &ExtractionResult{Pages: pages, PageCount: total}, nil
}

func (e *PDFExtractor) finish(result *ExtractionResult, start time.Time) {
	joined := joinPages(result.Pages)
	result.WordCount = len(strings.Fields(joined))
	result.CharacterCount = len(joined)
	result.Title = guessTitle(result.Pages)
	result.ProcessingTime = time.Since(start)
	if result.PageCount == 0 {
		result.PageCount = len(result.Pages)
	}
}

// splitOnPageMarkers parses "--- PAGE N ---" markers back into a page map.
// Text without markers becomes a single page.
func splitOnPageMarkers(text string) map[int]string {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(text, -1)
	pages := make(map[int]string)

	if len(locs) == 0 {
		if strings.TrimSpace(text) != "" {
			pages[1] = text
		}
		return pages
	}

	for i, loc := range locs {
		pageNum, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if body == "" {
			continue
		}
		pages[pageNum] = body
	}
	return pages
}

func joinPages(pages map[int]string) string {
	parts := make([]string, 0, len(pages))
	for _, text := range pages {
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// guessTitle takes the first plausible line of the first page.
func guessTitle(pages map[int]string) string {
	first, ok := pages[1]
	if !ok {
		for _, text := range pages {
			first = text
			break
		}
	}
	for _, line := range strings.Split(first, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= 4 && len(line) <= 120 {
			return line
		}
	}
	return ""
}

// evaluateTextQuality scores extracted text in [0,1] by character-class
// ratios; garbled extractions full of replacement runes score near zero.
func evaluateTextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return 0.0
	}
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		case r > 127 && isCommonUnicodeChar(r):
			printable++
		default:
			corrupted++
		}
	}

	total := len([]rune(text))
	alphanumericRatio := float64(alphanumeric) / float64(total)
	printableRatio := float64(printable) / float64(total)
	corruptedRatio := float64(corrupted) / float64(total)

	score := printableRatio * 0.5
	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}
	score -= corruptedRatio * 2.0
	if len(text) > 100 {
		score += 0.2
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func isCommonUnicodeChar(r rune) bool {
	switch r {
	case '—', '“', '”', '‘', '’', '…', '€', '£', '¥', '©', '®', '™', '°', '±', 'µ':
		return true
	}
	return false
}
