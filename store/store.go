package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/yoanbernabeu/codeindex/internal/fileutil"
)

// Payload keys shared by every backend.
const (
	PayloadFilePath  = "filePath"
	PayloadCodeChunk = "codeChunk"
	PayloadStartLine = "startLine"
	PayloadEndLine   = "endLine"
)

// pointNamespace seeds the UUIDv5 point ids so they stay stable across runs.
var pointNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

// Payload is the metadata stored next to every vector.
type Payload struct {
	FilePath  string `json:"filePath"`
	CodeChunk string `json:"codeChunk"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Point is one embedded code block.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// SearchResult represents a search match with its relevance score
type SearchResult struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// VectorStore defines the interface for vector storage backends
type VectorStore interface {
	// Initialize creates the collection when missing. created reports whether a
	// new collection was made, which invalidates any hash cache for the workspace.
	Initialize(ctx context.Context) (created bool, err error)

	// UpsertPoints inserts or replaces points by id
	UpsertPoints(ctx context.Context, points []Point) error

	// DeletePointsByFilePath removes all points for a given file path
	DeletePointsByFilePath(ctx context.Context, filePath string) error

	// DeletePointsByFilePaths removes all points for any of the given file paths
	DeletePointsByFilePaths(ctx context.Context, filePaths []string) error

	// Search finds the most similar points to a query vector
	Search(ctx context.Context, queryVector []float32, limit int) ([]SearchResult, error)

	CollectionExists(ctx context.Context) (bool, error)

	// ClearCollection removes every point but keeps the collection
	ClearCollection(ctx context.Context) error

	DeleteCollection(ctx context.Context) error

	// Close cleanly shuts down the store
	Close() error
}

// PointID derives the deterministic id of the block starting at startLine in filePath.
func PointID(filePath string, startLine int) string {
	key := fmt.Sprintf("%s-%d", fileutil.NormalizePath(filePath), startLine)
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// NewPoint builds a point for a code block with a normalized path and stable id.
func NewPoint(filePath string, startLine, endLine int, content string, vector []float32) Point {
	normalized := fileutil.NormalizePath(filePath)
	return Point{
		ID:     PointID(normalized, startLine),
		Vector: vector,
		Payload: Payload{
			FilePath:  normalized,
			CodeChunk: content,
			StartLine: startLine,
			EndLine:   endLine,
		},
	}
}

// SanitizeCollectionName derives the collection name for a workspace root.
func SanitizeCollectionName(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	sum := sha256.Sum256([]byte(filepath.ToSlash(filepath.Clean(abs))))
	return "ws-" + hex.EncodeToString(sum[:])[:16]
}

func normalizePaths(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n := fileutil.NormalizePath(p)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func (p Payload) valid() bool {
	return p.FilePath != "" && p.CodeChunk != "" && p.StartLine > 0 && p.EndLine >= p.StartLine
}

// stripScheme turns "http://host" style endpoints into a bare host for gRPC dialing.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}
