package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	cause := errors.New("connection refused")

	require.Equal(t, "[config:analyze] Missing API Key", New(KindConfig, "analyze", "Missing API Key").Error())
	require.Equal(t, "[transport:azure] request failed: connection refused", Wrap(KindTransport, "azure", "request failed", cause).Error())
	require.Equal(t, "[transport:azure] connection refused", Wrap(KindTransport, "azure", "", cause).Error())
}

func TestReason(t *testing.T) {
	cause := errors.New("401 Access denied")
	e := Wrap(KindTransport, "azure", "", cause).(*Error)
	require.Equal(t, "401 Access denied", e.Reason())

	require.Equal(t, "Missing API Key", New(KindConfig, "credentials", "Missing API Key").Reason())
}

func TestWrapKeepsKind(t *testing.T) {
	inner := New(KindConfig, "credentials", "Missing API Key")
	outer := Wrap(KindTransport, "analyze", "request failed", inner)
	require.Same(t, inner, outer)
	require.True(t, IsKind(outer, KindConfig))

	require.Nil(t, Wrap(KindData, "decode", "bad", nil))
}

func TestKindThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("analysis of %s: %w", "a.jpg", New(KindData, "decode", "no metadata"))
	require.True(t, IsKind(err, KindData))
	require.False(t, IsKind(err, KindTransport))
	require.Equal(t, KindData, KindOf(err))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))

	cause := errors.New("eof")
	require.ErrorIs(t, Wrap(KindTransport, "fetch", "read failed", cause), cause)
}
