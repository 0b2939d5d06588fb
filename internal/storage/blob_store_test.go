package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttachmentKey(t *testing.T) {
	t.Run("keeps the base name under messages/", func(t *testing.T) {
		req := require.New(t)
		key := AttachmentKey("report.pdf")
		req.True(strings.HasPrefix(key, "messages/"))
		req.True(strings.HasSuffix(key, "_report.pdf"))
	})

	t.Run("strips directories", func(t *testing.T) {
		req := require.New(t)
		req.True(strings.HasSuffix(AttachmentKey("../../etc/passwd"), "_passwd"))
		req.True(strings.HasSuffix(AttachmentKey(`C:\Users\me\cat.png`), "_cat.png"))
	})

	t.Run("empty names get a placeholder", func(t *testing.T) {
		require.True(t, strings.HasSuffix(AttachmentKey(""), "_file"))
	})

	t.Run("keys are unique", func(t *testing.T) {
		require.NotEqual(t, AttachmentKey("a.txt"), AttachmentKey("a.txt"))
	})
}
