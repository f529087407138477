package archive

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("3f1e8a52-0c4d-4c6e-9d1e-9b6a2f6f8c10")
	now := time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC)

	key := ObjectKey("impression", now, id)
	assert.Equal(t, fmt.Sprintf("impression/2025/06/01/123456_%s.json", id), key)
}

func TestObjectKey_NormalizesToUTC(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2025, 6, 1, 14, 0, 0, 0, loc)
	utc := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()

	assert.Equal(t, ObjectKey("click", utc, id), ObjectKey("click", local, id))
}
