package avalon

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"
)

func TestGORMLoggerLogMode(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, nil)
	gl := newGORMLogger(handler, 250*time.Millisecond)

	switched := gl.LogMode(gormlogger.Info)
	sl, ok := switched.(gormStructuredLogger)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, sl.SlowThreshold)

	sl.Info(context.Background(), "migration %s", "done")
	assert.Contains(t, buf.String(), "migration done")
	assert.Contains(t, buf.String(), "logger=gorm")
}
