package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := New(KindDbOpen, cause)

	assert.Equal(t, "Could not open database file", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))

	withCtx := Newf(KindDbRetrieve, nil, "module %q", "m1")
	assert.Equal(t, `Could not read database: module "m1"`, withCtx.Error())
}

func TestIsKind_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("persist status: %w", New(KindDbFlush, errors.New("disk full")))

	assert.True(t, IsKind(err, KindDbFlush))
	assert.False(t, IsKind(err, KindDbInsert))
	assert.Equal(t, KindDbFlush, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestChain_ListsCauses(t *testing.T) {
	root := errors.New("no such file or directory")
	err := New(KindFileOpen, fmt.Errorf("create /x/out.log: %w", root))

	chain := Chain(err)
	require.Len(t, chain, 2)
	assert.Equal(t, "create /x/out.log: no such file or directory", chain[0])
	assert.Equal(t, "no such file or directory", chain[1])
	assert.Empty(t, Chain(New(KindUnknownCommand, nil)))
}

func TestChain_FollowsJoinedErrors(t *testing.T) {
	runErr := fmt.Errorf("persist started pid 7: %w", New(KindDbFlush, errors.New("disk full")))
	deliver := Newf(KindInit, errors.New("context canceled"), "deliver completion for module %s", "svc")
	err := errors.Join(runErr, deliver)

	assert.Equal(t, []string{
		"persist started pid 7: Could not write database",
		"Could not write database",
		"disk full",
		`Could not initialize runtime: deliver completion for module svc`,
		"context canceled",
	}, Chain(err))

	// a single-member join repeats its member's message
	assert.Equal(t, []string{"disk full"}, Chain(errors.Join(nil, New(KindDbFlush, errors.New("disk full")))))
}
