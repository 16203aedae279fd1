package rtlink

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/torqlabs/rtlink/config"
	"github.com/torqlabs/rtlink/test"
)

func TestConfigureLogger(t *testing.T) {
	l := logrus.New()
	l.Out = io.Discard

	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString("logging:\n  level: debug\n  format: json\n"))
	require.NoError(t, ConfigureLogger(l, c))
	assert.Equal(t, logrus.DebugLevel, l.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	// defaults
	c = config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString("unrelated: true\n"))
	require.NoError(t, ConfigureLogger(l, c))
	assert.Equal(t, logrus.InfoLevel, l.Level)
	assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)

	// bad level
	c = config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString("logging:\n  level: shouting\n"))
	assert.Error(t, ConfigureLogger(l, c))

	// bad format
	c = config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString("logging:\n  format: morse\n"))
	assert.Error(t, ConfigureLogger(l, c))
}
