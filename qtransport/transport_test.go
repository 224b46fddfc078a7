package qtransport_test

import (
	"errors"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/gordian-engine/qdrive/qtransport"
	"github.com/stretchr/testify/require"
)

var _ qtransport.Transport = (net.Conn)(nil)

func TestIsWouldBlock(t *testing.T) {
	t.Parallel()

	require.True(t, qtransport.IsWouldBlock(qtransport.ErrWouldBlock))
	require.True(t, qtransport.IsWouldBlock(fmt.Errorf("write: %w", os.ErrDeadlineExceeded)))
	require.False(t, qtransport.IsWouldBlock(net.ErrClosed))
	require.False(t, qtransport.IsWouldBlock(errors.New("boom")))
}
