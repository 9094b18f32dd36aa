package backend

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindCarriesStableCategoryName(t *testing.T) {
	assert.Equal(t, "role_not_supported", KindRoleNotSupported.String())
	assert.Equal(t, "timeout", KindTimeout.String())
	assert.Equal(t, "cancelled", KindCancelled.String())
}

func TestErrorMapsOntoStatusCodes(t *testing.T) {
	err := New(KindTimeout, "capture", "dev0", fmt.Errorf("deadline"))
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.DeadlineExceeded, st.Code())

	assert.Equal(t, codes.Unimplemented, ErrRoleNotSupported("dev0", RoleGlitch).Kind.Code())
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := New(KindTransport, "send", "dev0", cause)
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "transport")
	assert.Contains(t, err.Error(), "dev0")
}

func TestRegistryReplacesAndLists(t *testing.T) {
	r := NewRegistry()
	r.Register(Driver{Kind: "b"})
	r.Register(Driver{Kind: "a"})
	r.Register(Driver{Kind: "b"}) // replacement, not a duplicate

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Kind)
	assert.Equal(t, "b", list[1].Kind)

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}
