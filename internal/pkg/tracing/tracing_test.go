package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "kilnstudio")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartEnd_NoopProvider(t *testing.T) {
	ctx, span := Start(context.Background(), "unit")
	assert.NotNil(t, ctx)
	End(span, errors.New("boom"))
}
