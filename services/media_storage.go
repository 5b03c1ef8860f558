package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"manual-knowledge-pipeline/internal/config"
	"manual-knowledge-pipeline/models"
	"manual-knowledge-pipeline/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MediaStorage keeps the binary side of a document on disk: the original
// upload under its content hash, a compressed page-text archive, and any
// embedded images pdfimages can recover.
type MediaStorage struct {
	storageDir string
	log        *slog.Logger
}

func NewMediaStorage(cfg *config.Config, log *slog.Logger) *MediaStorage {
	return &MediaStorage{storageDir: cfg.FileStorageDir, log: log}
}

// MediaArtifacts describes what StoreArtifacts produced for one document.
type MediaArtifacts struct {
	ArchivePath      string
	ArchiveAlgorithm utils.CompressionAlgorithm
	Images           []models.PageImage
}

// SaveUpload copies the source PDF into content-addressed storage. A file
// already stored under the same hash is reused as is.
func (s *MediaStorage) SaveUpload(srcPath, contentHash string) (string, error) {
	dir := filepath.Join(s.storageDir, "documents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}

	dstPath := filepath.Join(dir, contentHash+".pdf")
	if _, err := os.Stat(dstPath); err == nil {
		return dstPath, nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create stored file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to copy upload: %w", err)
	}
	return dstPath, nil
}

// StoreArtifacts writes the page-text archive and extracts embedded images.
// Image extraction requires pdfimages and degrades to archive-only when the
// binary is missing.
func (s *MediaStorage) StoreArtifacts(ctx context.Context, docID primitive.ObjectID, pdfPath string, pages map[int]string) (*MediaArtifacts, error) {
	dir := filepath.Join(s.storageDir, "artifacts", docID.Hex())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	archivePath, algorithm, err := s.writeArchive(dir, pages)
	if err != nil {
		return nil, err
	}

	artifacts := &MediaArtifacts{ArchivePath: archivePath, ArchiveAlgorithm: algorithm}

	images, err := s.extractImages(ctx, dir, pdfPath)
	if err != nil {
		s.log.Debug("image extraction skipped", "document_id", docID.Hex(), "error", err)
	} else {
		artifacts.Images = images
	}
	return artifacts, nil
}

// writeArchive serializes the page map with page markers and compresses it.
func (s *MediaStorage) writeArchive(dir string, pages map[int]string) (string, utils.CompressionAlgorithm, error) {
	pageNumbers := make([]int, 0, len(pages))
	for page := range pages {
		pageNumbers = append(pageNumbers, page)
	}
	sort.Ints(pageNumbers)

	var sb strings.Builder
	for _, page := range pageNumbers {
		fmt.Fprintf(&sb, "--- PAGE %d ---\n%s\n", page, pages[page])
	}

	data, algorithm, err := utils.CompressText(sb.String())
	if err != nil {
		return "", "", fmt.Errorf("failed to compress page text: %w", err)
	}

	name := "pages.txt"
	if algorithm == utils.CompressionGzip {
		name = "pages.txt.gz"
	}
	archivePath := filepath.Join(dir, name)
	if err := os.WriteFile(archivePath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write page archive: %w", err)
	}
	return archivePath, algorithm, nil
}

// pdfimages -p -png names files prefix-PPP-NNN.png with PPP the page number.
var imageNameRe = regexp.MustCompile(`-(\d+)-(\d+)\.png$`)

func (s *MediaStorage) extractImages(ctx context.Context, dir, pdfPath string) ([]models.PageImage, error) {
	if _, err := exec.LookPath("pdfimages"); err != nil {
		return nil, fmt.Errorf("pdfimages not available")
	}

	imageDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	extractCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(extractCtx, "pdfimages", "-p", "-png", pdfPath, filepath.Join(imageDir, "img"))
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdfimages failed: %v, output: %s", err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted images: %w", err)
	}

	var images []models.PageImage
	for _, entry := range entries {
		groups := imageNameRe.FindStringSubmatch(entry.Name())
		if groups == nil {
			continue
		}
		page, err := strconv.Atoi(groups[1])
		if err != nil {
			continue
		}

		path := filepath.Join(imageDir, entry.Name())
		hash, size, err := utils.HashFile(path)
		if err != nil {
			s.log.Debug("failed to hash extracted image", "path", path, "error", err)
			continue
		}
		images = append(images, models.PageImage{
			Page:        page,
			Path:        path,
			ContentType: "image/png",
			Size:        size,
			Hash:        hash,
		})
	}
	return images, nil
}
