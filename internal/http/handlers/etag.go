package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/domain/job"
)

// jobETag changes whenever a poller could observe a difference: every
// mutation advances updatedAt, and progress or status move with it.
func jobETag(j job.Job) string {
	return fmt.Sprintf(`W/"%s-%d-%d-%s"`, j.ID, j.UpdatedAt, j.Progress, j.Status)
}

// RespondJobWithETag serves a job record, answering 304 when the caller
// already holds the current version.
func RespondJobWithETag(ctx *gin.Context, j job.Job) {
	etag := jobETag(j)
	ctx.Header("ETag", etag)

	if ifNoneMatchMatches(ctx.GetHeader("If-None-Match"), etag) {
		ctx.Status(http.StatusNotModified)
		return
	}

	ctx.JSON(http.StatusOK, j)
}

func ifNoneMatchMatches(headerValue, currentETag string) bool {
	if strings.TrimSpace(headerValue) == "" || strings.TrimSpace(currentETag) == "" {
		return false
	}

	if strings.TrimSpace(headerValue) == "*" {
		return true
	}

	current := normalizeETag(currentETag)

	for _, part := range strings.Split(headerValue, ",") {
		if normalizeETag(part) == current {
			return true
		}
	}

	return false
}

// Weak comparison: W/"abc" and "abc" match.
func normalizeETag(raw string) string {
	v := strings.TrimSpace(raw)
	return strings.TrimSpace(strings.TrimPrefix(v, "W/"))
}
