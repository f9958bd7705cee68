package server

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// isSafeAbsPath ensures the provided path is absolute and does not contain traversal.
// It must be already cleaned (no ".." segments). This reduces risk of uncontrolled
// user input being used in filesystem paths.
func isSafeAbsPath(p string) bool {
	if p == "" {
		return true
	}
	if !filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	sep := string(filepath.Separator)
	trimmed := strings.TrimRight(p, sep)
	if trimmed == "" {
		trimmed = p // keep root like "/" on Unix
	}
	// Reject if cleaning changes more than just trailing separators
	if !(clean == p || clean == trimmed) {
		return false
	}
	return true
}

// withinDir reports whether the clean absolute path p lies inside dir.
func withinDir(dir, p string) bool {
	if p == "" || !isSafeAbsPath(p) {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
