package transport

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecRunnerClassifiesResults(t *testing.T) {
	r := NewExecRunner()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res := r.Run(ctx, "true")
		assert.Equal(t, ClassOK, res.Class)
		assert.NoError(t, res.Err)
	})

	t.Run("non-zero exit is transient", func(t *testing.T) {
		res := r.Run(ctx, "false")
		assert.Equal(t, ClassTransient, res.Class)
		assert.Error(t, res.Err)
	})

	t.Run("missing executable is permanent", func(t *testing.T) {
		res := r.Run(ctx, "definitely-not-a-real-command-bullend")
		assert.Equal(t, ClassPermanent, res.Class)
		assert.Error(t, res.Err)
	})
}

func TestExecRunnerExists(t *testing.T) {
	r := NewExecRunner()
	assert.True(t, r.Exists("sh"))
	assert.False(t, r.Exists("definitely-not-a-real-command-bullend"))
}

func TestResultClassString(t *testing.T) {
	assert.Equal(t, "ok", ClassOK.String())
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "permanent", ClassPermanent.String())
}

func TestTailTrimsToWholeLines(t *testing.T) {
	assert.Equal(t, "short", tail("short\n", 100))

	long := strings.Repeat("x", 100) + "\n" + "last line"
	out := tail(long, 20)
	assert.Equal(t, "last line", out)
}
